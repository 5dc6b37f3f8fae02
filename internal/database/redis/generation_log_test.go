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

// Test for the redis generation log.

package redis_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	db_api "github.com/llm-d-incubation/textgen-gateway/internal/database/api"
	dbredis "github.com/llm-d-incubation/textgen-gateway/internal/database/redis"
	uredis "github.com/llm-d-incubation/textgen-gateway/internal/util/redis"
)

func TestGenerationLogRedis(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Generation Log Redis Suite")
}

func newRecord(status string) *db_api.GenerationRecord {
	return &db_api.GenerationRecord{
		ID:               uuid.NewString(),
		RequestID:        uuid.NewString(),
		Model:            "test-model",
		PromptChars:      12,
		OutputChars:      40,
		MaxLength:        50,
		ProcessingTimeMs: 125,
		Status:           status,
		CreatedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}
}

var _ = Describe("Generation log using redis", func() {
	var (
		minirds *miniredis.Miniredis
		conf    *uredis.RedisClientConfig
		store   *dbredis.GenerationLogRedis
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		minirds = miniredis.RunT(GinkgoT())
		conf = &uredis.RedisClientConfig{
			Url:         "redis://" + minirds.Addr(),
			ServiceName: "test-service",
			Timeout:     time.Second,
		}
		var err error
		store, err = dbredis.NewGenerationLogRedis(ctx, conf, time.Hour, dbredis.WithMaxRecent(5))
		Expect(err).To(BeNil())
		Expect(store).ToNot(BeNil())
	})

	AfterEach(func() {
		if store != nil {
			Expect(store.Close()).To(Succeed())
		}
	})

	It("should reject an empty config or negative ttl", func() {
		_, err := dbredis.NewGenerationLogRedis(ctx, nil, time.Hour)
		Expect(err).ToNot(BeNil())
		_, err = dbredis.NewGenerationLogRedis(ctx, conf, -time.Second)
		Expect(err).ToNot(BeNil())
	})

	It("should store and get a record", func() {
		rec := newRecord(db_api.StatusOK)
		Expect(store.Store(ctx, rec)).To(Succeed())

		got, err := store.Get(ctx, rec.ID)
		Expect(err).To(BeNil())
		Expect(got.ID).To(Equal(rec.ID))
		Expect(got.RequestID).To(Equal(rec.RequestID))
		Expect(got.Status).To(Equal(db_api.StatusOK))
		Expect(got.ProcessingTimeMs).To(Equal(int64(125)))
		Expect(got.CreatedAt.Equal(rec.CreatedAt)).To(BeTrue())

		Expect(minirds.TTL("textgen:generation:" + rec.ID)).To(Equal(time.Hour))
	})

	It("should return not found for unknown IDs", func() {
		_, err := store.Get(ctx, "missing")
		Expect(err).To(MatchError(db_api.ErrNotFound))
	})

	It("should reject empty records", func() {
		Expect(store.Store(ctx, nil)).ToNot(Succeed())
		Expect(store.Store(ctx, &db_api.GenerationRecord{})).ToNot(Succeed())
	})

	It("should list recent records newest first and cap the list", func() {
		var ids []string
		for i := 0; i < 7; i++ {
			rec := newRecord(db_api.StatusOK)
			ids = append(ids, rec.ID)
			Expect(store.Store(ctx, rec)).To(Succeed())
		}

		recent, err := store.Recent(ctx, 0)
		Expect(err).To(BeNil())
		Expect(recent).To(HaveLen(5))
		for i, rec := range recent {
			Expect(rec.ID).To(Equal(ids[6-i]))
		}

		recent, err = store.Recent(ctx, 2)
		Expect(err).To(BeNil())
		Expect(recent).To(HaveLen(2))
		Expect(recent[0].ID).To(Equal(ids[6]))

		list, err := minirds.List("textgen:generations")
		Expect(err).To(BeNil())
		Expect(list).To(HaveLen(5))
	})

	It("should delete records trimmed off the recent list when they have no ttl", func() {
		noTTL, err := dbredis.NewGenerationLogRedis(ctx, conf, 0, dbredis.WithMaxRecent(5))
		Expect(err).To(BeNil())
		defer noTTL.Close()

		var ids []string
		for i := 0; i < 50; i++ {
			rec := newRecord(db_api.StatusOK)
			ids = append(ids, rec.ID)
			Expect(noTTL.Store(ctx, rec)).To(Succeed())
		}

		recordKeys := 0
		for _, key := range minirds.Keys() {
			if strings.HasPrefix(key, "textgen:generation:") {
				recordKeys++
				Expect(minirds.TTL(key)).To(BeZero())
			}
		}
		Expect(recordKeys).To(Equal(5))

		_, err = noTTL.Get(ctx, ids[0])
		Expect(err).To(MatchError(db_api.ErrNotFound))
		_, err = noTTL.Get(ctx, ids[44])
		Expect(err).To(MatchError(db_api.ErrNotFound))

		recent, err := noTTL.Recent(ctx, 0)
		Expect(err).To(BeNil())
		Expect(recent).To(HaveLen(5))
		Expect(recent[0].ID).To(Equal(ids[49]))
		Expect(recent[4].ID).To(Equal(ids[45]))
	})

	It("should skip expired records", func() {
		old := newRecord(db_api.StatusError)
		Expect(store.Store(ctx, old)).To(Succeed())
		minirds.FastForward(2 * time.Hour)
		fresh := newRecord(db_api.StatusOK)
		Expect(store.Store(ctx, fresh)).To(Succeed())

		recent, err := store.Recent(ctx, 10)
		Expect(err).To(BeNil())
		Expect(recent).To(HaveLen(1))
		Expect(recent[0].ID).To(Equal(fresh.ID))

		_, err = store.Get(ctx, old.ID)
		Expect(err).To(MatchError(db_api.ErrNotFound))
	})

	It("should return an empty list when nothing was stored", func() {
		recent, err := store.Recent(ctx, 10)
		Expect(err).To(BeNil())
		Expect(recent).To(BeEmpty())
	})

	It("should store records concurrently", func() {
		const n = 20
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				rec := newRecord(db_api.StatusOK)
				rec.RequestID = fmt.Sprintf("req-%d", i)
				Expect(store.Store(ctx, rec)).To(Succeed())
			}(i)
		}
		wg.Wait()

		// 5 kept records plus the list
		Expect(minirds.Keys()).To(HaveLen(6))
		recent, err := store.Recent(ctx, 0)
		Expect(err).To(BeNil())
		Expect(recent).To(HaveLen(5))
	})
})
