package service

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/timelycabs/auth/pkg/errors"
)

var sixDigits = regexp.MustCompile(`^[0-9]{6}$`)

func requireAppError(t *testing.T, err error, code string, status int) *apperrors.AppError {
	t.Helper()
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.Code)
	assert.Equal(t, status, appErr.Status)
	return appErr
}

func TestRequestOTP_IssuesAndSendsCode(t *testing.T) {
	f := newFixture(t)
	var sent string
	f.sender.On("Send", mock.Anything, testPhone, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.String(2) }).
		Return(nil).Once()

	otp, err := f.otps.RequestOTP(context.Background(), testPhone)
	require.NoError(t, err)

	assert.NotEmpty(t, otp.ID)
	assert.Equal(t, testPhone, otp.Phone)
	assert.Regexp(t, sixDigits, otp.Code)
	assert.False(t, otp.Consumed)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), otp.ExpiresAt)
	assert.Equal(t, "Your TimelyCabs OTP is: "+otp.Code+". Valid for 5 minutes.", sent)
	assert.Equal(t, 1, f.store.otpCount())
}

func TestRequestOTP_InvalidPhone(t *testing.T) {
	tests := []struct {
		name  string
		phone string
	}{
		{"empty", ""},
		{"missing plus", "919876543210"},
		{"too short", "+12345678"},
		{"too long", "+1234567890123456789012"},
		{"letters", "+91987654abcd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.otps.RequestOTP(context.Background(), tt.phone)

			requireAppError(t, err, "INVALID_INPUT", http.StatusBadRequest)
			assert.Zero(t, f.store.otpCount())
		})
	}
}

func TestRequestOTP_CooldownRejectsSecondRequest(t *testing.T) {
	f := newFixture(t)
	f.expectSMS()
	ctx := context.Background()

	_, err := f.otps.RequestOTP(ctx, testPhone)
	require.NoError(t, err)

	f.clock.Advance(20 * time.Second)
	_, err = f.otps.RequestOTP(ctx, testPhone)
	appErr := requireAppError(t, err, "RATE_LIMITED", http.StatusTooManyRequests)
	assert.Equal(t, 40*time.Second, appErr.RetryAfter)
	assert.Equal(t, 1, f.store.otpCount())

	f.clock.Advance(41 * time.Second)
	_, err = f.otps.RequestOTP(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.otpCount())
}

func TestRequestOTP_CooldownIsPerPhone(t *testing.T) {
	f := newFixture(t)
	f.expectSMS()
	ctx := context.Background()

	_, err := f.otps.RequestOTP(ctx, testPhone)
	require.NoError(t, err)
	_, err = f.otps.RequestOTP(ctx, "+14155550100")
	require.NoError(t, err)
}

func TestRequestOTP_HourlyLimit(t *testing.T) {
	f := newFixture(t)
	f.expectSMS()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.otps.RequestOTP(ctx, testPhone)
		require.NoError(t, err, "request %d", i+1)
		f.clock.Advance(2 * time.Minute)
	}

	_, err := f.otps.RequestOTP(ctx, testPhone)
	requireAppError(t, err, "RATE_LIMITED", http.StatusTooManyRequests)
	assert.Equal(t, 3, f.store.otpCount())

	// The first request leaves the trailing hour.
	f.clock.Advance(time.Hour - 6*time.Minute + time.Second)
	_, err = f.otps.RequestOTP(ctx, testPhone)
	require.NoError(t, err)
}

func TestRequestOTP_DeliveryFailureKeepsRecord(t *testing.T) {
	f := newFixture(t)
	f.sender.On("Send", mock.Anything, testPhone, mock.Anything).Return(errors.New("provider down")).Once()

	otp, err := f.otps.RequestOTP(context.Background(), testPhone)

	requireAppError(t, err, "DELIVERY_FAILED", http.StatusInternalServerError)
	assert.ErrorIs(t, err, apperrors.ErrDeliveryFailed)
	require.NotNil(t, otp)

	latest, err := f.store.Repos().OTPs.Latest(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Equal(t, otp.ID, latest.ID)
}

func TestResendOTP_SendsSameCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.On("Send", mock.Anything, testPhone, mock.Anything).Return(errors.New("timeout")).Once()

	otp, err := f.otps.RequestOTP(ctx, testPhone)
	require.Error(t, err)

	f.sender.On("Send", mock.Anything, testPhone, mock.MatchedBy(func(msg string) bool {
		return regexp.MustCompile(otp.Code).MatchString(msg)
	})).Return(nil).Once()

	resent, err := f.otps.ResendOTP(ctx, testPhone, otp.ID)
	require.NoError(t, err)
	assert.Equal(t, otp.ID, resent.ID)
	assert.Equal(t, 1, f.store.otpCount())
}

func TestResendOTP_RejectsUnusableRecords(t *testing.T) {
	f := newFixture(t)
	f.expectSMS()
	ctx := context.Background()

	otp, err := f.otps.RequestOTP(ctx, testPhone)
	require.NoError(t, err)

	t.Run("unknown id", func(t *testing.T) {
		_, err := f.otps.ResendOTP(ctx, testPhone, "00000000-0000-0000-0000-000000000000")
		requireAppError(t, err, "AUTHENTICATION_FAILED", http.StatusBadRequest)
	})

	t.Run("other phone", func(t *testing.T) {
		_, err := f.otps.ResendOTP(ctx, "+14155550100", otp.ID)
		requireAppError(t, err, "AUTHENTICATION_FAILED", http.StatusBadRequest)
	})

	t.Run("expired", func(t *testing.T) {
		f.clock.Advance(5 * time.Minute)
		_, err := f.otps.ResendOTP(ctx, testPhone, otp.ID)
		requireAppError(t, err, "AUTHENTICATION_FAILED", http.StatusBadRequest)
	})
}

func TestVerifyOTP_ConsumesOnce(t *testing.T) {
	f := newFixture(t)
	f.expectSMS()
	ctx := context.Background()

	otp, err := f.otps.RequestOTP(ctx, testPhone)
	require.NoError(t, err)

	consumed, err := f.otps.VerifyOTP(ctx, testPhone, otp.Code)
	require.NoError(t, err)
	assert.True(t, consumed.Consumed)
	require.NotNil(t, consumed.ConsumedAt)

	_, err = f.otps.VerifyOTP(ctx, testPhone, otp.Code)
	appErr := requireAppError(t, err, "AUTHENTICATION_FAILED", http.StatusBadRequest)
	assert.Equal(t, msgInvalidOTP, appErr.Message)
}

func TestVerifyOTP_WrongAndExpiredCodesLookAlike(t *testing.T) {
	f := newFixture(t)
	f.expectSMS()
	ctx := context.Background()

	otp, err := f.otps.RequestOTP(ctx, testPhone)
	require.NoError(t, err)

	wrong := "000000"
	if otp.Code == wrong {
		wrong = "111111"
	}
	_, wrongErr := f.otps.VerifyOTP(ctx, testPhone, wrong)

	f.clock.Advance(5 * time.Minute)
	_, expiredErr := f.otps.VerifyOTP(ctx, testPhone, otp.Code)

	require.Error(t, wrongErr)
	require.Error(t, expiredErr)
	assert.Equal(t, wrongErr.Error(), expiredErr.Error())
}

func TestVerifyOTP_PicksNewestMatchingRecord(t *testing.T) {
	f := newFixture(t)
	f.expectSMS()
	ctx := context.Background()

	first, err := f.otps.RequestOTP(ctx, testPhone)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.otps.RequestOTP(ctx, testPhone)
	require.NoError(t, err)

	got, err := f.otps.VerifyOTP(ctx, testPhone, second.Code)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	// The older code stays usable until it expires.
	if first.Code != second.Code {
		_, err = f.otps.VerifyOTP(ctx, testPhone, first.Code)
		assert.NoError(t, err)
	}
}

func TestStatistics(t *testing.T) {
	f := newFixture(t)
	f.expectSMS()
	ctx := context.Background()

	verified, err := f.otps.RequestOTP(ctx, testPhone)
	require.NoError(t, err)
	_, err = f.otps.VerifyOTP(ctx, testPhone, verified.Code)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	_, err = f.otps.RequestOTP(ctx, testPhone)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)
	_, err = f.otps.RequestOTP(ctx, testPhone)
	require.NoError(t, err)

	// The second code has expired, the third has not.
	f.clock.Advance(4 * time.Minute)
	stats, err := f.otps.Statistics(ctx, testPhone)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Verified)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 33.33, stats.VerificationRate)

	_, err = f.otps.Statistics(ctx, "bogus")
	requireAppError(t, err, "INVALID_INPUT", http.StatusBadRequest)
}

func TestGenerateCode(t *testing.T) {
	for _, n := range []int{4, 6, 8} {
		code, err := generateCode(n)
		require.NoError(t, err)
		assert.Len(t, code, n)
		assert.Regexp(t, `^[0-9]+$`, code)
	}
}

func TestOTPMetrics(t *testing.T) {
	f := newFixture(t)
	m := NewMetrics(prometheus.NewRegistry())
	f.otps.metrics = m
	f.sender.On("Send", mock.Anything, testPhone, mock.Anything).Return(nil).Once()
	ctx := context.Background()

	otp, err := f.otps.RequestOTP(ctx, testPhone)
	require.NoError(t, err)
	_, err = f.otps.RequestOTP(ctx, testPhone)
	require.Error(t, err)
	_, err = f.otps.VerifyOTP(ctx, testPhone, otp.Code)
	require.NoError(t, err)
	_, err = f.otps.VerifyOTP(ctx, testPhone, otp.Code)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.otpRequests.WithLabelValues(resultIssued)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.otpRequests.WithLabelValues(resultRateLimited)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.otpVerifications.WithLabelValues(resultVerified)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.otpVerifications.WithLabelValues(resultRejected)))
}
