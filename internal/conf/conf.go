// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Database configuration.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Configuration for the monitoring module.
type MonitoringConfig struct {
	// Labels added to all exported metrics.
	Labels map[string]string `yaml:"labels,omitempty"`
	// The port to serve /metrics on.
	Port int `yaml:"port"`
}

// Configuration for the mqtt trigger module.
type MQTTConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// Configuration for the event sink (line-delimited json over tcp).
type EventSinkConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Configuration for the elasticsearch event index.
type ElasticsearchConfig struct {
	Protocol    string `yaml:"protocol"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	UseSSL      bool   `yaml:"useSSL"`
	VerifyCerts bool   `yaml:"verifyCerts"`
}

// Credentials for one openstack deployment, looked up by auth url.
type OpenStackCredentials struct {
	// The keystone auth url this credential set belongs to.
	AuthURL string `yaml:"authURL"`
	// Admin-scope credentials.
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	TenantName string `yaml:"tenantName"`
	// The OpenStack domain the users and projects live in.
	DomainName string `yaml:"domainName,omitempty"`
	// Optional default availability zone for new servers.
	AvailabilityZone string `yaml:"availabilityZone,omitempty"`
	// Optional external network new links are connected to.
	ExternalNetworkID string `yaml:"externalNetworkID,omitempty"`
}

// Ratios used to derive volume quotas from the max_instances quota.
type QuotaInstanceRatios struct {
	Volumes   int `yaml:"volumes"`
	Snapshots int `yaml:"snapshots"`
}

// One rule of a default security group. For icmp the from/to ports carry
// the icmp type and code.
type DefaultSecurityGroupRule struct {
	Protocol string `yaml:"protocol"`
	FromPort int    `yaml:"fromPort"`
	ToPort   int    `yaml:"toPort"`
	CIDR     string `yaml:"cidr"`
}

// A security group every new service project link starts with.
type DefaultSecurityGroup struct {
	Name        string                     `yaml:"name"`
	Description string                     `yaml:"description,omitempty"`
	Rules       []DefaultSecurityGroupRule `yaml:"rules,omitempty"`
}

// Configuration for the reconciliation supervisor.
type SupervisorConfig struct {
	// Seconds between sweeps.
	IntervalSeconds int `yaml:"intervalSeconds"`
}

// Configuration for the task workers.
type TasksConfig struct {
	// Number of worker goroutines draining the task queue.
	Workers int `yaml:"workers"`
	// Seconds between queue polls when no task is due.
	PollSeconds int `yaml:"pollSeconds"`
}

// Configuration values for the application.
type Config struct {
	DB            DBConfig               `yaml:"db"`
	Monitoring    MonitoringConfig       `yaml:"monitoring"`
	MQTT          MQTTConfig             `yaml:"mqtt"`
	Events        EventSinkConfig        `yaml:"events"`
	Elasticsearch ElasticsearchConfig    `yaml:"elasticsearch"`
	OpenStack     []OpenStackCredentials `yaml:"openstackCredentials"`
	QuotaRatios   QuotaInstanceRatios    `yaml:"quotaInstanceRatios"`
	DefaultSecurityGroups []DefaultSecurityGroup `yaml:"defaultSecurityGroups,omitempty"`
	Supervisor    SupervisorConfig       `yaml:"supervisor"`
	Tasks         TasksConfig            `yaml:"tasks"`
}

// Load the configuration from a yaml file and fill in defaults.
func NewConfig(path string) (Config, error) {
	var c Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, err
	}
	c.applyDefaults()
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Events.Host == "" {
		c.Events.Host = "localhost"
	}
	if c.Events.Port == 0 {
		c.Events.Port = 5959
	}
	if c.QuotaRatios.Volumes == 0 {
		c.QuotaRatios.Volumes = 4
	}
	if c.QuotaRatios.Snapshots == 0 {
		c.QuotaRatios.Snapshots = 20
	}
	if c.Supervisor.IntervalSeconds == 0 {
		c.Supervisor.IntervalSeconds = 60
	}
	if c.Tasks.Workers == 0 {
		c.Tasks.Workers = 4
	}
	if c.Tasks.PollSeconds == 0 {
		c.Tasks.PollSeconds = 1
	}
}

// Find the admin credentials for the given keystone auth url.
func (c *Config) CredentialsFor(authURL string) (OpenStackCredentials, bool) {
	for _, creds := range c.OpenStack {
		if creds.AuthURL == authURL {
			return creds, true
		}
	}
	return OpenStackCredentials{}, false
}
