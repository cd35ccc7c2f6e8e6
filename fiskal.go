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

// Package fiskal implements the tax-document processing pipeline: an
// asynchronous, queue-driven state machine that takes locally created fiscal
// documents through signing, submission to the tax authority, status
// polling, acceptance or rejection, and artifact generation.
package fiskal

import (
	"embed"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seliom/fiskal/config"
	"github.com/seliom/fiskal/database"
	"github.com/seliom/fiskal/internal/authority"
	redis_db "github.com/seliom/fiskal/internal/redis-db"
	"github.com/seliom/fiskal/internal/signing"
)

// SQLFiles holds the embedded schema migrations applied by the migrate
// command.
//
//go:embed sql/*.sql
var SQLFiles embed.FS

// Fiskal is the pipeline service. All queue handlers hang off it; every
// dependency is injected once at startup, no ambient singletons.
type Fiskal struct {
	queue      TaskQueuer
	signer     *signing.Signer
	authority  authority.Client
	redis      redis.UniversalClient
	datasource database.IDataSource
}

// NewFiskal wires the pipeline from configuration: Redis-backed queues, the
// signing engine (credential loaded once, construction fails on a missing
// credential), and the authority HTTP client.
func NewFiskal(db database.IDataSource) (*Fiskal, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	redisClient, err := redis_db.NewRedisClient(configuration.Redis.Dns)
	if err != nil {
		return nil, err
	}

	var store signing.CredentialStore
	if configuration.Signing.DemoMode {
		store = &signing.DemoCredentialStore{}
	} else {
		store = signing.NewFileCredentialStore(configuration.Signing.CertFile, configuration.Signing.KeyFile)
	}
	signer, err := signing.NewSigner(store)
	if err != nil {
		return nil, err
	}

	client := authority.NewHTTPClient(
		configuration.Authority.BaseURL,
		configuration.Authority.APIKey,
		time.Duration(configuration.Authority.TimeoutSeconds)*time.Second,
	)

	return &Fiskal{
		queue:      NewQueue(configuration),
		signer:     signer,
		authority:  client,
		redis:      redisClient.Client(),
		datasource: db,
	}, nil
}

// NewFiskalWithDeps builds a pipeline with explicit collaborators. Tests and
// embedders use this to swap the authority or queue boundary.
func NewFiskalWithDeps(db database.IDataSource, queue TaskQueuer, signer *signing.Signer, client authority.Client, redisClient redis.UniversalClient) *Fiskal {
	return &Fiskal{
		queue:      queue,
		signer:     signer,
		authority:  client,
		redis:      redisClient,
		datasource: db,
	}
}

// Signer exposes the signing engine for audit surfaces.
func (f *Fiskal) Signer() *signing.Signer {
	return f.signer
}
