package mqtt

import (
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps a single message at 1MB.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker to accept it.
// State topics are retained; commands and acks are not.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validateTopic(topic, false); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed, defaultPublishTimeout)
}

// PublishRetained publishes a retained message at the configured QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.QoS(), true)
}

// QoS returns the configured default QoS.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}

// Subscribe registers handler for a topic filter, which may use + and #.
// The subscription is restored on every reconnect.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := validateTopic(filter, true); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, filter)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	sub := &subscription{qos: qos, handler: handler}
	c.subs.Store(filter, sub)
	err := await(c.client.Subscribe(filter, qos, c.wrapHandler(handler)), ErrSubscribeFailed, defaultPublishTimeout)
	if err != nil {
		c.subs.CompareAndDelete(filter, sub)
	}
	return err
}

// Unsubscribe drops a subscription. Messages already in flight may
// still reach the handler.
func (c *Client) Unsubscribe(filter string) error {
	if err := validateTopic(filter, true); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.subs.Delete(filter)
	return await(c.client.Unsubscribe(filter), ErrUnsubscribeFailed, defaultPublishTimeout)
}

// HasSubscription reports whether filter is tracked, by exact string.
func (c *Client) HasSubscription(filter string) bool {
	_, ok := c.subs.Load(filter)
	return ok
}

// resubscribe restores every tracked subscription after a reconnect.
// Paho completes the tokens asynchronously; failures are logged.
func (c *Client) resubscribe() {
	c.subs.Range(func(key, value any) bool {
		filter := key.(string)
		sub := value.(*subscription)
		token := c.client.Subscribe(filter, sub.qos, c.wrapHandler(sub.handler))
		go func() {
			if err := await(token, ErrSubscribeFailed, defaultPublishTimeout); err != nil {
				c.log().Warn("MQTT resubscribe failed", "filter", filter, "error", err)
			}
		}()
		return true
	})
}

// await waits for a paho token and wraps any failure in kind.
func await(token pahomqtt.Token, kind error, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: no broker response after %v", kind, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return nil
}

// validateTopic rejects empty topics, and wildcards anywhere except in a
// subscription filter where + fills a whole level and # ends the filter.
func validateTopic(topic string, filter bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !filter {
		if strings.ContainsAny(topic, "+#") {
			return fmt.Errorf("%w: wildcard in publish topic %q", ErrInvalidTopic, topic)
		}
		return nil
	}
	levels := strings.Split(topic, "/")
	for i, level := range levels {
		switch {
		case level == "#" && i != len(levels)-1:
			return fmt.Errorf("%w: # must be the last level in %q", ErrInvalidTopic, topic)
		case level != "+" && level != "#" && strings.ContainsAny(level, "+#"):
			return fmt.Errorf("%w: wildcard inside level %q", ErrInvalidTopic, level)
		}
	}
	return nil
}
