//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "joingate/pkg/platform/audit"
	"joingate/pkg/platform/audit/store/kafka"
	"joingate/pkg/testutil/containers"
)

const topic = "captcha-audit-it"

type KafkaAuditStoreSuite struct {
	suite.Suite
	broker string
	client *kgo.Client
	store  *kafka.Store
}

func TestKafkaAuditStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaAuditStoreSuite))
}

func (s *KafkaAuditStoreSuite) SetupSuite() {
	s.broker = containers.GetManager().GetRedpanda(s.T()).Broker

	client, err := kafka.NewClient([]string{s.broker}, topic)
	s.Require().NoError(err)
	s.client = client

	adm := kadm.NewClient(client)
	_, err = adm.CreateTopics(context.Background(), 1, 1, nil, topic)
	s.Require().NoError(err)

	s.store = kafka.New(client, topic)
}

func (s *KafkaAuditStoreSuite) TearDownSuite() {
	if s.client != nil {
		s.client.Close()
	}
}

func (s *KafkaAuditStoreSuite) TestAppendProducesKeyedRecord() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := s.store.Append(ctx, audit.Event{
		ID:        "evt-it-1",
		Category:  audit.CategorySecurity,
		Action:    string(audit.EventChallengeTimedOut),
		Subject:   "10001",
		Group:     "20002",
		Timestamp: time.Now().UTC(),
	})
	s.Require().NoError(err)

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().NoError(fetches.Err())

	var found bool
	fetches.EachRecord(func(r *kgo.Record) {
		var body map[string]any
		if json.Unmarshal(r.Value, &body) != nil {
			return
		}
		if body["id"] == "evt-it-1" {
			found = true
			s.Equal("10001", string(r.Key))
			s.Equal("challenge_timed_out", body["action"])
		}
	})
	s.True(found, "produced audit event should be consumable")
}
