package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"ms-stepping/internal/logger"

	"github.com/segmentio/kafka-go"
)

// EnsureTopicsExist creates Kafka topics if they don't already exist
func EnsureTopicsExist(brokers []string, topics []string, log *logger.Logger) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	// Connect to the first broker to create topics
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	// Create each topic
	for _, topic := range topics {
		topicConfigs := []kafka.TopicConfig{
			{
				Topic:             topic,
				NumPartitions:     1,
				ReplicationFactor: 1,
			},
		}

		err = controllerConn.CreateTopics(topicConfigs...)
		if err != nil {
			if errors.Is(err, kafka.TopicAlreadyExists) {
				log.LogKafka("TOPIC", topic, "already exists")
				continue
			}
			// Continue trying to create other topics even if one fails
			log.Warn("KAFKA", fmt.Sprintf("Error creating topic %s: %v", topic, err))
		} else {
			log.LogKafka("TOPIC", topic, "created")
		}
	}

	// Wait a moment for topics to be fully created
	time.Sleep(1 * time.Second)
	return nil
}

// ListTopics returns the topics the first broker knows about, sorted.
func ListTopics(ctx context.Context, brokers []string) ([]string, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var topics []string
	for _, p := range partitions {
		if !seen[p.Topic] {
			seen[p.Topic] = true
			topics = append(topics, p.Topic)
		}
	}
	sort.Strings(topics)
	return topics, nil
}

// MissingTopics reports which of want the cluster does not have yet.
func MissingTopics(ctx context.Context, brokers, want []string) ([]string, error) {
	existing, err := ListTopics(ctx, brokers)
	if err != nil {
		return nil, err
	}
	return difference(want, existing), nil
}

func difference(want, have []string) []string {
	present := make(map[string]bool, len(have))
	for _, t := range have {
		present[t] = true
	}
	var missing []string
	for _, t := range want {
		if t != "" && !present[t] {
			missing = append(missing, t)
		}
	}
	return missing
}
