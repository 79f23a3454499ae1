package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// EnsureTopic creates topic when it does not exist yet. It is used for
// local and test deployments; production topics are provisioned upfront.
func EnsureTopic(ctx context.Context, brokers []string, auth SASL, topic string, partitions int32, replication int16) error {
	opts, err := clientOpts(brokers, auth)
	if err != nil {
		return err
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("events: create admin client: %w", err)
	}
	defer client.Close()
	return ensureTopic(ctx, kadm.NewClient(client), topic, partitions, replication)
}

func ensureTopic(ctx context.Context, adm *kadm.Client, topic string, partitions int32, replication int16) error {
	details, err := adm.ListTopics(ctx, topic)
	if err != nil {
		return fmt.Errorf("events: list topics: %w", err)
	}
	if d, ok := details[topic]; ok && d.Err == nil {
		return nil
	}

	resp, err := adm.CreateTopic(ctx, partitions, replication, nil, topic)
	if err != nil {
		return fmt.Errorf("events: create topic %s: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("events: create topic %s: %w", topic, resp.Err)
	}
	return nil
}
