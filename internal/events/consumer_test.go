package events

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/dray-io/housekeeper/internal/housekeeping"
	"github.com/dray-io/housekeeper/internal/logging"
)

type fakeClient struct {
	committed []*kgo.Record
	offsets   map[string]map[int32]kgo.EpochOffset
	closed    bool
}

func (c *fakeClient) PollFetches(ctx context.Context) kgo.Fetches {
	<-ctx.Done()
	return nil
}

func (c *fakeClient) CommitRecords(ctx context.Context, rs ...*kgo.Record) error {
	c.committed = append(c.committed, rs...)
	return nil
}

func (c *fakeClient) SetOffsets(o map[string]map[int32]kgo.EpochOffset) {
	c.offsets = o
}

func (c *fakeClient) Close() { c.closed = true }

type fakeScheduler struct {
	failTable string
	scheduled [][]housekeeping.Entity
}

func (s *fakeScheduler) Schedule(ctx context.Context, entities []housekeeping.Entity) error {
	for _, e := range entities {
		if e.TableName == s.failTable {
			return errors.New("record store unavailable")
		}
	}
	s.scheduled = append(s.scheduled, entities)
	return nil
}

func createTable(table string) []byte {
	return []byte(`{"eventType":"CREATE_TABLE","dbName":"db","tableName":"` + table +
		`","tableLocation":"s3://b/` + table + `","tableParameters":{"beekeeper.remove.expired.data":"true"}}`)
}

func record(partition int32, offset int64, value []byte) *kgo.Record {
	return &kgo.Record{Topic: "events", Partition: partition, Offset: offset, LeaderEpoch: 3, Value: value}
}

func fetches(partitions map[int32][]*kgo.Record) kgo.Fetches {
	topic := kgo.FetchTopic{Topic: "events"}
	for p := int32(0); p < int32(len(partitions)); p++ {
		topic.Partitions = append(topic.Partitions, kgo.FetchPartition{Partition: p, Records: partitions[p]})
	}
	return kgo.Fetches{{Topics: []kgo.FetchTopic{topic}}}
}

func newTestConsumer(client Client, s Scheduler) *Consumer {
	return NewConsumerWithClient(client, ConsumerConfig{Topic: "events", Logger: logging.Nop()}, s)
}

func TestConsumerCommitsScheduledRecords(t *testing.T) {
	client := &fakeClient{}
	sched := &fakeScheduler{}
	c := newTestConsumer(client, sched)

	failed := c.process(context.Background(), fetches(map[int32][]*kgo.Record{
		0: {record(0, 10, createTable("a")), record(0, 11, []byte("garbage"))},
		1: {record(1, 4, createTable("b"))},
	}))

	assert.False(t, failed)
	assert.Len(t, client.committed, 3, "malformed records are acknowledged too")
	assert.Nil(t, client.offsets)
	require.Len(t, sched.scheduled, 2)
}

func TestConsumerRewindsFailedPartition(t *testing.T) {
	client := &fakeClient{}
	sched := &fakeScheduler{failTable: "broken"}
	c := newTestConsumer(client, sched)

	failed := c.process(context.Background(), fetches(map[int32][]*kgo.Record{
		0: {record(0, 10, createTable("a")), record(0, 11, createTable("broken")), record(0, 12, createTable("c"))},
		1: {record(1, 4, createTable("d"))},
	}))

	assert.True(t, failed)
	var committed []string
	for _, r := range client.committed {
		committed = append(committed, string(r.Value))
	}
	require.Len(t, committed, 2)
	assert.True(t, strings.Contains(committed[0], `"a"`))
	assert.True(t, strings.Contains(committed[1], `"d"`))

	require.Contains(t, client.offsets, "events")
	assert.Equal(t, kgo.EpochOffset{Epoch: 3, Offset: 11}, client.offsets["events"][0])
	assert.NotContains(t, client.offsets["events"], int32(1))
}

func TestConsumerHandleIgnoresTablesNotOptedIn(t *testing.T) {
	sched := &fakeScheduler{}
	c := newTestConsumer(&fakeClient{}, sched)

	err := c.Handle(context.Background(), []byte(`{"eventType":"CREATE_TABLE","dbName":"db","tableName":"t","tableLocation":"s3://b/t"}`))
	require.NoError(t, err)
	assert.Empty(t, sched.scheduled)
}

func TestConsumerRunStopsOnCancel(t *testing.T) {
	client := &fakeClient{}
	c := newTestConsumer(client, &fakeScheduler{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	c.Close()
	assert.True(t, client.closed)
}

func TestEnsureTopic(t *testing.T) {
	brokers := os.Getenv("HOUSEKEEPER_TEST_KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("HOUSEKEEPER_TEST_KAFKA_BROKERS not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	topic := "housekeeper-test-" + time.Now().Format("20060102150405")
	require.NoError(t, EnsureTopic(ctx, strings.Split(brokers, ","), SASL{}, topic, 1, 1))
	require.NoError(t, EnsureTopic(ctx, strings.Split(brokers, ","), SASL{}, topic, 1, 1), "second call is a no-op")
}
