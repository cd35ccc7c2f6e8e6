/*
Copyright 2025 Fiskal Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5401"

	DefaultDocumentQueue = "document-submission"
	DefaultShipmentQueue = "shipment-guide"
	DefaultReportQueue   = "regulatory-report"
	DefaultWebhookQueue  = "webhook"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL    bool   `json:"ssl" envconfig:"FISKAL_SERVER_SSL"`
	Domain string `json:"domain" envconfig:"FISKAL_SERVER_SSL_DOMAIN"`
	Email  string `json:"ssl_email" envconfig:"FISKAL_SERVER_SSL_EMAIL"`
	Port   string `json:"port" envconfig:"FISKAL_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"FISKAL_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"FISKAL_REDIS_DNS"`
}

type QueueConfig struct {
	DocumentQueue    string `json:"document_queue" envconfig:"FISKAL_QUEUE_DOCUMENT"`
	ShipmentQueue    string `json:"shipment_queue" envconfig:"FISKAL_QUEUE_SHIPMENT"`
	ReportQueue      string `json:"report_queue" envconfig:"FISKAL_QUEUE_REPORT"`
	WebhookQueue     string `json:"webhook_queue" envconfig:"FISKAL_QUEUE_WEBHOOK"`
	MonitoringPort   string `json:"monitoring_port" envconfig:"FISKAL_QUEUE_MONITORING_PORT"`
	MaxRetryAttempts int    `json:"max_retry_attempts" envconfig:"FISKAL_QUEUE_MAX_RETRY_ATTEMPTS"`
	PollDelaySeconds int    `json:"poll_delay_seconds" envconfig:"FISKAL_QUEUE_POLL_DELAY_SECONDS"`
}

type SigningConfig struct {
	CertFile string `json:"cert_file" envconfig:"FISKAL_SIGNING_CERT_FILE"`
	KeyFile  string `json:"key_file" envconfig:"FISKAL_SIGNING_KEY_FILE"`
	DemoMode bool   `json:"demo_mode" envconfig:"FISKAL_SIGNING_DEMO_MODE"`
}

type AuthorityConfig struct {
	BaseURL        string `json:"base_url" envconfig:"FISKAL_AUTHORITY_BASE_URL"`
	APIKey         string `json:"api_key" envconfig:"FISKAL_AUTHORITY_API_KEY"`
	TimeoutSeconds int    `json:"timeout_seconds" envconfig:"FISKAL_AUTHORITY_TIMEOUT_SECONDS"`
}

type ReconciliationConfig struct {
	Schedule           string `json:"schedule" envconfig:"FISKAL_RECONCILIATION_SCHEDULE"`
	GraceWindowMinutes int    `json:"grace_window_minutes" envconfig:"FISKAL_RECONCILIATION_GRACE_MINUTES"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName    string               `json:"project_name" envconfig:"FISKAL_PROJECT_NAME"`
	Server         ServerConfig         `json:"server"`
	DataSource     DataSourceConfig     `json:"data_source"`
	Redis          RedisConfig          `json:"redis"`
	Queue          QueueConfig          `json:"queue"`
	Signing        SigningConfig        `json:"signing"`
	Authority      AuthorityConfig      `json:"authority"`
	Reconciliation ReconciliationConfig `json:"reconciliation"`
	Notification   Notification         `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("fiskal", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called fiskal.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Fiskal Pipeline"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Queue.DocumentQueue == "" {
		cnf.Queue.DocumentQueue = DefaultDocumentQueue
	}
	if cnf.Queue.ShipmentQueue == "" {
		cnf.Queue.ShipmentQueue = DefaultShipmentQueue
	}
	if cnf.Queue.ReportQueue == "" {
		cnf.Queue.ReportQueue = DefaultReportQueue
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = DefaultWebhookQueue
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5402"
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}
	if cnf.Queue.PollDelaySeconds <= 0 {
		// The authority is asynchronous; never poll immediately after submit.
		cnf.Queue.PollDelaySeconds = 120
	}

	if !cnf.Signing.DemoMode && (cnf.Signing.CertFile == "" || cnf.Signing.KeyFile == "") {
		log.Println("Error: Signing credential files are required outside demo mode.")
		return errors.New("signing cert_file and key_file are required")
	}

	if cnf.Authority.TimeoutSeconds <= 0 {
		cnf.Authority.TimeoutSeconds = 30
	}

	if cnf.Reconciliation.Schedule == "" {
		cnf.Reconciliation.Schedule = "0 */6 * * *"
	}
	if _, err := cron.ParseStandard(cnf.Reconciliation.Schedule); err != nil {
		log.Printf("Error: invalid reconciliation schedule %q", cnf.Reconciliation.Schedule)
		return err
	}
	if cnf.Reconciliation.GraceWindowMinutes <= 0 {
		cnf.Reconciliation.GraceWindowMinutes = 30
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
