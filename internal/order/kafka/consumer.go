// Package kafka turns payment events into order state changes.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ms-stepping/internal/kafka"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	orderdb "ms-stepping/internal/order/db"
	"ms-stepping/internal/payment/services"

	segkafka "github.com/segmentio/kafka-go"
)

type OrderCompleter interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	CompleteOrder(ctx context.Context, orderID, paymentID string) (*models.Order, []models.Ticket, error)
	RefundOrder(ctx context.Context, orderID string) error
}

// PaymentRefunder gives back a charge the order could not use.
type PaymentRefunder interface {
	RefundPayment(ctx context.Context, in services.RefundInput) (*models.Payment, error)
}

func decode(msg segkafka.Message) (*models.PaymentEvent, error) {
	var evt models.PaymentEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return nil, fmt.Errorf("decode payment event at offset %d: %w", msg.Offset, err)
	}
	return &evt, nil
}

// settled reports errors that redelivery cannot fix.
func settled(err error) bool {
	return errors.Is(err, orderdb.ErrNotFound) || errors.Is(err, orderdb.ErrNotPending) || errors.Is(err, orderdb.ErrNotCompleted)
}

// PaymentSucceededHandler completes the order a successful payment belongs
// to. A payment that does not cover the order total is logged and skipped.
// A payment for tickets that sold out meanwhile is refunded.
func PaymentSucceededHandler(orders OrderCompleter, refunds PaymentRefunder, log *logger.Logger) kafka.MessageHandler {
	return func(ctx context.Context, msg segkafka.Message) error {
		evt, err := decode(msg)
		if err != nil {
			log.Error("KAFKA", err.Error())
			return nil
		}
		if evt.OrderID == "" {
			log.Debug("KAFKA", fmt.Sprintf("Payment %s has no order, skipping", evt.PaymentID))
			return nil
		}

		order, err := orders.GetOrder(ctx, evt.OrderID)
		if err != nil {
			if settled(err) {
				log.Warn("KAFKA", fmt.Sprintf("Payment %s references unknown order %s", evt.PaymentID, evt.OrderID))
				return nil
			}
			return err
		}
		if evt.Amount.LessThan(order.Total) {
			log.LogSecurity("AMOUNT_MISMATCH", fmt.Sprintf("Payment %s paid %s for order %s totalling %s", evt.PaymentID, evt.Amount, order.ID, order.Total))
			return nil
		}

		_, tickets, err := orders.CompleteOrder(ctx, evt.OrderID, evt.PaymentID)
		if errors.Is(err, orderdb.ErrSoldOut) {
			_, rerr := refunds.RefundPayment(ctx, services.RefundInput{
				PaymentID:      evt.PaymentID,
				Reason:         "Tickets sold out",
				IdempotencyKey: "soldout-" + evt.PaymentID,
			})
			if rerr != nil && !errors.Is(rerr, services.ErrNotRefundable) {
				return fmt.Errorf("refund sold out payment %s: %w", evt.PaymentID, rerr)
			}
			log.Warn("KAFKA", fmt.Sprintf("Order %s sold out, payment %s refunded", evt.OrderID, evt.PaymentID))
			return nil
		}
		if err != nil {
			if settled(err) {
				log.Warn("KAFKA", fmt.Sprintf("Order %s not completable: %v", evt.OrderID, err))
				return nil
			}
			return err
		}
		log.LogKafka("CONSUMED", msg.Topic, fmt.Sprintf("order=%s payment=%s tickets=%d", evt.OrderID, evt.PaymentID, len(tickets)))
		return nil
	}
}

// PaymentFailedHandler records a declined attempt. The order stays pending so
// the buyer can retry; its payment window releases it if nobody does.
func PaymentFailedHandler(orders OrderCompleter, log *logger.Logger) kafka.MessageHandler {
	return func(ctx context.Context, msg segkafka.Message) error {
		evt, err := decode(msg)
		if err != nil {
			log.Error("KAFKA", err.Error())
			return nil
		}
		if evt.OrderID == "" {
			return nil
		}
		order, err := orders.GetOrder(ctx, evt.OrderID)
		if err != nil {
			if settled(err) {
				return nil
			}
			return err
		}
		log.LogKafka("CONSUMED", msg.Topic, fmt.Sprintf("order=%s status=%s payment %s failed, awaiting retry", order.ID, order.Status, evt.PaymentID))
		return nil
	}
}

// PaymentRefundedHandler voids the tickets of an order once its payment is
// refunded in full. Partial refunds leave the order as it is.
func PaymentRefundedHandler(orders OrderCompleter, log *logger.Logger) kafka.MessageHandler {
	return func(ctx context.Context, msg segkafka.Message) error {
		evt, err := decode(msg)
		if err != nil {
			log.Error("KAFKA", err.Error())
			return nil
		}
		if evt.OrderID == "" {
			return nil
		}
		if !evt.FullyRefunded() {
			log.Info("KAFKA", fmt.Sprintf("Partial refund %s of %s on order %s, tickets kept", evt.RefundedAmount, evt.Amount, evt.OrderID))
			return nil
		}
		if err := orders.RefundOrder(ctx, evt.OrderID); err != nil {
			if settled(err) {
				log.Warn("KAFKA", fmt.Sprintf("Order %s not refundable: %v", evt.OrderID, err))
				return nil
			}
			return err
		}
		log.LogKafka("CONSUMED", msg.Topic, fmt.Sprintf("order=%s refunded by payment %s", evt.OrderID, evt.PaymentID))
		return nil
	}
}
