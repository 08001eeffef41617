package anomaly_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/smallbiznis/shieldcart-auth/internal/anomaly"
	"github.com/smallbiznis/shieldcart-auth/internal/domain"
)

type fakeOrders struct {
	recent       []domain.Order
	sinceCounts  map[time.Duration]int
	seenAddress  bool
}

func (f *fakeOrders) RecentOrders(context.Context, int64, int) ([]domain.Order, error) {
	return f.recent, nil
}

func (f *fakeOrders) CountOrdersSince(_ context.Context, _ int64, since time.Time) (int, error) {
	until := time.Since(since)
	switch {
	case until <= time.Hour+time.Second:
		return f.sinceCounts[time.Hour], nil
	default:
		return f.sinceCounts[24 * time.Hour], nil
	}
}

func (f *fakeOrders) HasShippingAddress(context.Context, int64, string) (bool, error) {
	return f.seenAddress, nil
}

type fakeLogins struct {
	byUser      int
	byIP        int
	timestamps  []time.Time
}

func (f *fakeLogins) CountFailedLoginsByUser(context.Context, int64, time.Time) (int, error) {
	return f.byUser, nil
}

func (f *fakeLogins) CountFailedLoginsByIP(context.Context, string, time.Time) (int, error) {
	return f.byIP, nil
}

func (f *fakeLogins) FailedLoginTimestampsByIP(context.Context, string, time.Time) ([]time.Time, error) {
	return f.timestamps, nil
}

func TestScoreOrderFlagsFirstHighValueOrder(t *testing.T) {
	scorer := anomaly.NewScorer(&fakeOrders{sinceCounts: map[time.Duration]int{}}, nil, nil)
	result := scorer.ScoreOrder(context.Background(), 1, 1500_00, "")
	assert.GreaterOrEqual(t, result.Score, 50)
	assert.NotEmpty(t, result.Reasons)
}

func TestScoreOrderFlagsRapidCreation(t *testing.T) {
	orders := &fakeOrders{sinceCounts: map[time.Duration]int{time.Hour: 6, 24 * time.Hour: 6}}
	scorer := anomaly.NewScorer(orders, nil, nil)
	result := scorer.ScoreOrder(context.Background(), 1, 10_00, "")
	assert.GreaterOrEqual(t, result.Score, 70)
}

func TestScoreLoginFlagsBruteForceTiming(t *testing.T) {
	base := time.Now()
	var timestamps []time.Time
	for i := 0; i < 10; i++ {
		timestamps = append(timestamps, base.Add(time.Duration(i)*time.Second))
	}
	scorer := anomaly.NewScorer(nil, &fakeLogins{timestamps: timestamps}, nil)
	result := scorer.ScoreLogin(context.Background(), 1, "1.2.3.4")
	assert.GreaterOrEqual(t, result.Score, 80)
}

func TestScorePaymentGateCombinesSignals(t *testing.T) {
	logins := &fakeLogins{byIP: 11}
	scorer := anomaly.NewScorer(nil, logins, nil)
	result := scorer.ScorePaymentGate(context.Background(), 1, "1.2.3.4", 100_00)
	assert.GreaterOrEqual(t, result.Score, 70)
	assert.LessOrEqual(t, result.Score, 100)
}
