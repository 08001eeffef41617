// Package anomaly is a pure read-side scorer over order history, login
// attempts, and payment history; it does not read the audit log. It never
// mutates state — it returns a score
// and reasons, and the caller (the payment-intent gate, or an operator
// dashboard) decides what to do with it.
package anomaly

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/shieldcart-auth/internal/domain"
)

// OrderHistory is the read contract for the order-anomaly signals.
type OrderHistory interface {
	RecentOrders(ctx context.Context, userID int64, limit int) ([]domain.Order, error)
	CountOrdersSince(ctx context.Context, userID int64, since time.Time) (int, error)
	HasShippingAddress(ctx context.Context, userID int64, addressHash string) (bool, error)
}

// LoginHistory is the read contract for the failed-login-pattern signal.
type LoginHistory interface {
	CountFailedLoginsByUser(ctx context.Context, userID int64, since time.Time) (int, error)
	CountFailedLoginsByIP(ctx context.Context, ip string, since time.Time) (int, error)
	FailedLoginTimestampsByIP(ctx context.Context, ip string, since time.Time) ([]time.Time, error)
}

// PaymentHistory is the read contract for the payment-fraud signal.
type PaymentHistory interface {
	CountFailedPayments(ctx context.Context, userID int64, since time.Time) (int, error)
	CountPaymentEvents(ctx context.Context, userID int64, since time.Time) (int, error)
	DistinctIPsForUser(ctx context.Context, userID int64, since time.Time) (int, error)
}

// Scorer composes the read-side signals described in the spec into a single
// AnomalyResult. Each signal degrades to a no-op on its own read error —
// scoring failures degrade to "not anomalous" rather than failing the
// caller's request.
type Scorer struct {
	orders   OrderHistory
	logins   LoginHistory
	payments PaymentHistory
}

// NewScorer builds a Scorer over the three read contracts.
func NewScorer(orders OrderHistory, logins LoginHistory, payments PaymentHistory) *Scorer {
	return &Scorer{orders: orders, logins: logins, payments: payments}
}

// ScoreOrder combines the high-value-order and rapid-order-creation signals
// for a user about to place amountCents on a shippingAddressHash.
func (s *Scorer) ScoreOrder(ctx context.Context, userID int64, amountCents int64, shippingAddressHash string) domain.AnomalyResult {
	score := 0
	var reasons []string

	if s.orders != nil {
		recent, err := s.orders.RecentOrders(ctx, userID, 10)
		if err == nil {
			if len(recent) == 0 {
				if amountCents > 1000_00 {
					score += 50
					reasons = append(reasons, "first-ever order above 1000")
				}
			} else {
				var total int64
				for _, o := range recent {
					total += o.TotalCents
				}
				avg := total / int64(len(recent))
				if avg > 0 && amountCents > avg*3 {
					score += 40
					reasons = append(reasons, "order amount exceeds 3x recent average")
				}
			}

			if amountCents > 10000_00 {
				score += 25
				reasons = append(reasons, "order amount exceeds 10000")
			}

			if shippingAddressHash != "" {
				if seen, err := s.orders.HasShippingAddress(ctx, userID, shippingAddressHash); err == nil && !seen && amountCents > 1000_00 {
					score += 30
					reasons = append(reasons, "unseen shipping address on high-value order")
				}
			}
		}

		if hourly, err := s.orders.CountOrdersSince(ctx, userID, time.Now().Add(-time.Hour)); err == nil && hourly > 5 {
			score += 70
			reasons = append(reasons, "more than 5 orders in the last hour")
		}
		if daily, err := s.orders.CountOrdersSince(ctx, userID, time.Now().Add(-24*time.Hour)); err == nil && daily > 20 {
			score += 50
			reasons = append(reasons, "more than 20 orders in the last 24 hours")
		}
	}

	return cap100(score, reasons)
}

// ScoreLogin combines the failed-login-pattern signal for a user/IP pair.
func (s *Scorer) ScoreLogin(ctx context.Context, userID int64, ip string) domain.AnomalyResult {
	score := 0
	var reasons []string

	if s.logins == nil {
		return cap100(score, reasons)
	}

	now := time.Now()
	if byUser, err := s.logins.CountFailedLoginsByUser(ctx, userID, now.Add(-15*time.Minute)); err == nil && byUser > 5 {
		score += 60
		reasons = append(reasons, "more than 5 failed logins for user in last 15 minutes")
	}
	if byIP, err := s.logins.CountFailedLoginsByIP(ctx, ip, now.Add(-15*time.Minute)); err == nil && byIP > 10 {
		score += 70
		reasons = append(reasons, "more than 10 failed logins from ip in last 15 minutes")
	}

	if timestamps, err := s.logins.FailedLoginTimestampsByIP(ctx, ip, now.Add(-time.Hour)); err == nil && len(timestamps) >= 10 {
		if meanGap(timestamps) < 5*time.Second {
			score += 80
			reasons = append(reasons, "brute-force timing pattern detected")
		}
	}

	return cap100(score, reasons)
}

// ScorePayment combines the payment-fraud signal over the trailing 24h.
func (s *Scorer) ScorePayment(ctx context.Context, userID int64, amountCents int64) domain.AnomalyResult {
	score := 0
	var reasons []string

	if s.payments == nil {
		return cap100(score, reasons)
	}

	since := time.Now().Add(-24 * time.Hour)
	if failed, err := s.payments.CountFailedPayments(ctx, userID, since); err == nil && failed > 3 {
		score += 50
		reasons = append(reasons, "more than 3 failed payments in last 24 hours")
	}
	if amountCents > 5000_00 {
		score += 20
		reasons = append(reasons, "payment amount exceeds 5000")
	}
	if events, err := s.payments.CountPaymentEvents(ctx, userID, since); err == nil && events > 10 {
		score += 40
		reasons = append(reasons, "more than 10 payment events in last 24 hours")
	}
	if ips, err := s.payments.DistinctIPsForUser(ctx, userID, since); err == nil && ips > 5 {
		score += 30
		reasons = append(reasons, "more than 5 distinct ips in last 24 hours")
	}

	return cap100(score, reasons)
}

// ScorePaymentGate combines login and payment signals, the composite used to
// gate payment-intent creation.
func (s *Scorer) ScorePaymentGate(ctx context.Context, userID int64, ip string, amountCents int64) domain.AnomalyResult {
	login := s.ScoreLogin(ctx, userID, ip)
	payment := s.ScorePayment(ctx, userID, amountCents)
	combined := login.Score + payment.Score
	reasons := append(append([]string{}, login.Reasons...), payment.Reasons...)
	return cap100(combined, reasons)
}

func cap100(score int, reasons []string) domain.AnomalyResult {
	if score > 100 {
		score = 100
	}
	return domain.AnomalyResult{Score: score, Reasons: reasons}
}

func meanGap(timestamps []time.Time) time.Duration {
	if len(timestamps) < 2 {
		return time.Hour
	}
	var total time.Duration
	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		if gap < 0 {
			gap = -gap
		}
		total += gap
	}
	return total / time.Duration(len(timestamps)-1)
}

// FraudGateThreshold is the default score at/above which payment-intent
// creation is refused; configurable via FRAUD_SCORE_THRESHOLD.
const FraudGateThreshold = 80

// ErrFraudGateBlocked is returned by callers composing this package when
// the combined score meets or exceeds the configured threshold.
var ErrFraudGateBlocked = fmt.Errorf("payment blocked pending review")
