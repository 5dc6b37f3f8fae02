/*
Copyright 2026 The llm-d Authors

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

// This file provides a redis implementation of the generation log.

package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	db_api "github.com/llm-d-incubation/textgen-gateway/internal/database/api"
	"github.com/llm-d-incubation/textgen-gateway/internal/util/logging"
	uredis "github.com/llm-d-incubation/textgen-gateway/internal/util/redis"
)

const (
	keysPrefix         = "textgen:"
	recordKeysPrefix   = keysPrefix + "generation:"
	recentListKeyName  = keysPrefix + "generations"
	DefaultMaxRecent   = 1000
	defaultCmdTimeout  = 5 * time.Second
	redisClientNameSuf = "-genlog"
)

var (
	//go:embed generation_log_store.lua
	storeLua         string
	redisScriptStore = goredis.NewScript(storeLua)
)

var _ db_api.GenerationLogClient = (*GenerationLogRedis)(nil)

type GenerationLogRedis struct {
	redisClient *goredis.Client
	ttl         time.Duration
	maxRecent   int
	timeout     time.Duration
}

type Option func(*GenerationLogRedis)

// WithMaxRecent caps the recent list. Older IDs are trimmed on every store.
func WithMaxRecent(n int) Option {
	return func(c *GenerationLogRedis) {
		if n > 0 {
			c.maxRecent = n
		}
	}
}

// NewGenerationLogRedis connects to redis and checks it accepts writes.
// Records expire after ttl; zero keeps them until trimmed out of the recent list,
// which deletes them.
func NewGenerationLogRedis(ctx context.Context, conf *uredis.RedisClientConfig, ttl time.Duration, opts ...Option) (
	*GenerationLogRedis, error) {

	if ctx == nil {
		ctx = context.Background()
	}
	logger := klog.FromContext(ctx)
	if conf == nil {
		err := fmt.Errorf("empty redis config")
		logger.Error(err, "NewGenerationLogRedis:")
		return nil, err
	}
	if ttl < 0 {
		return nil, fmt.Errorf("record ttl cannot be negative: %v", ttl)
	}
	clientConf := *conf
	if clientConf.ServiceName != "" {
		clientConf.ServiceName += redisClientNameSuf
	}
	redisClient, err := uredis.NewRedisClient(ctx, &clientConf)
	if err != nil {
		return nil, err
	}
	if err := uredis.CheckClient(ctx, redisClient, conf.Timeout, keysPrefix, conf.ServiceName); err != nil {
		redisClient.Close()
		return nil, err
	}

	c := &GenerationLogRedis{
		redisClient: redisClient,
		ttl:         ttl,
		maxRecent:   DefaultMaxRecent,
		timeout:     defaultCmdTimeout,
	}
	if conf.Timeout > 0 {
		c.timeout = conf.Timeout
	}
	for _, opt := range opts {
		opt(c)
	}
	logger.Info("NewGenerationLogRedis: succeeded", "serviceName", conf.ServiceName, "ttl", ttl, "maxRecent", c.maxRecent)
	return c, nil
}

func (c *GenerationLogRedis) Close() (err error) {
	if c.redisClient != nil {
		err = c.redisClient.Close()
	}
	return err
}

func (c *GenerationLogRedis) Store(ctx context.Context, rec *db_api.GenerationRecord) error {
	logger := klog.FromContext(ctx)
	if rec == nil || rec.ID == "" {
		err := fmt.Errorf("empty generation record")
		logger.Error(err, "Store:")
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal generation record %s: %w", rec.ID, err)
	}

	cctx, ccancel := context.WithTimeout(ctx, c.timeout)
	defer ccancel()
	evicted, err := redisScriptStore.Run(cctx, c.redisClient,
		[]string{recordKeyName(rec.ID), recentListKeyName},
		string(data), ttlMillis(c.ttl), rec.ID,
		strconv.Itoa(c.maxRecent), strconv.Itoa(c.maxRecent-1), recordKeysPrefix).Int()
	if err != nil {
		logger.Error(err, "Store: script failed", "generationID", rec.ID)
		return err
	}
	logger.V(logging.TRACE).Info("Store: succeeded", "generationID", rec.ID, "evicted", evicted)
	return nil
}

func (c *GenerationLogRedis) Get(ctx context.Context, ID string) (*db_api.GenerationRecord, error) {
	cctx, ccancel := context.WithTimeout(ctx, c.timeout)
	defer ccancel()
	data, err := c.redisClient.Get(cctx, recordKeyName(ID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, db_api.ErrNotFound
		}
		return nil, err
	}
	rec := &db_api.GenerationRecord{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("unmarshal generation record %s: %w", ID, err)
	}
	return rec, nil
}

func (c *GenerationLogRedis) Recent(ctx context.Context, limit int) ([]*db_api.GenerationRecord, error) {
	logger := klog.FromContext(ctx)
	if limit <= 0 || limit > c.maxRecent {
		limit = c.maxRecent
	}

	cctx, ccancel := context.WithTimeout(ctx, c.timeout)
	defer ccancel()
	ids, err := c.redisClient.LRange(cctx, recentListKeyName, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	records := make([]*db_api.GenerationRecord, 0, len(ids))
	if len(ids) == 0 {
		return records, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKeyName(id)
	}
	vals, err := c.redisClient.MGet(cctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, val := range vals {
		s, ok := val.(string)
		if !ok {
			// expired
			continue
		}
		rec := &db_api.GenerationRecord{}
		if err := json.Unmarshal([]byte(s), rec); err != nil {
			logger.Error(err, "Recent: skipping malformed record", "generationID", ids[i])
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// ttlMillis rounds a positive ttl up to at least one millisecond.
func ttlMillis(ttl time.Duration) string {
	if ttl <= 0 {
		return "0"
	}
	return strconv.FormatInt(max(ttl.Milliseconds(), 1), 10)
}

func recordKeyName(ID string) string {
	return recordKeysPrefix + ID
}
