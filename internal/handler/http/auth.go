package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/timelycabs/auth/internal/domain"
	"github.com/timelycabs/auth/internal/service"
	apperrors "github.com/timelycabs/auth/pkg/errors"
	"github.com/timelycabs/auth/pkg/httputil"
	"github.com/timelycabs/auth/pkg/logger"
	"github.com/timelycabs/auth/pkg/middleware"
	"github.com/timelycabs/auth/pkg/validator"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// AuthService is the login flow used by the handlers.
type AuthService interface {
	RequestOTP(ctx context.Context, phone string) (*domain.OTP, error)
	ResendOTP(ctx context.Context, phone, otpID string) (*domain.OTP, error)
	VerifyOTP(ctx context.Context, in service.VerifyInput) (*service.VerifyResult, error)
	CompleteProfile(ctx context.Context, token, fullName string, gender domain.Gender) (*service.ProfileResult, error)
	Logout(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (*domain.User, *domain.Session, error)
	OTPStatistics(ctx context.Context, phone string) (domain.OTPStats, error)
}

// UserReader loads users for authenticated callers.
type UserReader interface {
	GetUserWithRoles(ctx context.Context, userID string) (*domain.User, error)
}

// AuthHandler handles HTTP requests for auth endpoints.
type AuthHandler struct {
	service AuthService
	users   UserReader
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc AuthService, users UserReader, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, users: users, logger: logger}
}

// --- Request DTOs ---

// RequestOTPRequest is the JSON request body for issuing a code.
type RequestOTPRequest struct {
	Phone string `json:"phone" validate:"required,phone"`
}

// ResendOTPRequest is the JSON request body for re-sending an issued code.
type ResendOTPRequest struct {
	Phone string `json:"phone" validate:"required,phone"`
	OTPID string `json:"otp_id" validate:"required,uuid"`
}

// VerifyOTPRequest is the JSON request body for code verification.
type VerifyOTPRequest struct {
	Phone      string `json:"phone" validate:"required,phone"`
	OTP        string `json:"otp" validate:"required,min=4,max=10,numeric"`
	DeviceInfo string `json:"device_info" validate:"omitempty,max=255"`
}

// CompleteProfileRequest is the JSON request body for profile completion.
type CompleteProfileRequest struct {
	AuthToken string `json:"auth_token" validate:"required"`
	FullName  string `json:"full_name" validate:"required,min=2,max=150"`
	Gender    string `json:"gender" validate:"required,oneof=male female other"`
}

// LogoutRequest is the JSON request body for logout.
type LogoutRequest struct {
	AuthToken string `json:"auth_token" validate:"required"`
}

// --- Response types ---

// OTPResponse acknowledges an issued or re-sent code.
type OTPResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	OTPID   string `json:"otp_id"`
}

// VerifyOTPResponse carries the session opened by a verified code.
type VerifyOTPResponse struct {
	Success   bool         `json:"success"`
	Message   string       `json:"message"`
	IsNewUser bool         `json:"is_new_user"`
	Phone     string       `json:"phone"`
	AuthToken string       `json:"auth_token"`
	User      *domain.User `json:"user"`
}

// CompleteProfileResponse carries the updated user and its permanent token.
type CompleteProfileResponse struct {
	Success   bool         `json:"success"`
	Message   string       `json:"message"`
	User      *domain.User `json:"user"`
	AuthToken string       `json:"auth_token"`
}

// MessageResponse is a bare acknowledgement.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// UserResponse wraps a single user.
type UserResponse struct {
	Success bool         `json:"success"`
	User    *domain.User `json:"user"`
}

// OTPStatsResponse reports per-phone code statistics.
type OTPStatsResponse struct {
	Success bool `json:"success"`
	domain.OTPStats
}

// deliveryFailedResponse is the error envelope for a code that was stored
// but not sent. otp_id lets the client retry through /resend-otp.
type deliveryFailedResponse struct {
	Success bool                    `json:"success"`
	Error   *httputil.ErrorResponse `json:"error"`
	OTPID   string                  `json:"otp_id"`
}

// --- Handlers ---

// RequestOTP handles POST /api/v1/auth/request-otp
func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req RequestOTPRequest
	if !decode(w, r, &req) {
		return
	}

	otp, err := h.service.RequestOTP(r.Context(), req.Phone)
	if err != nil {
		h.writeOTPError(w, r, otp, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, OTPResponse{
		Success: true,
		Message: "OTP sent successfully",
		OTPID:   otp.ID,
	})
}

// ResendOTP handles POST /api/v1/auth/resend-otp
func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req ResendOTPRequest
	if !decode(w, r, &req) {
		return
	}

	otp, err := h.service.ResendOTP(r.Context(), req.Phone, req.OTPID)
	if err != nil {
		h.writeOTPError(w, r, otp, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, OTPResponse{
		Success: true,
		Message: "OTP resent successfully",
		OTPID:   otp.ID,
	})
}

// VerifyOTP handles POST /api/v1/auth/verify-otp
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.service.VerifyOTP(r.Context(), service.VerifyInput{
		Phone:      req.Phone,
		Code:       req.OTP,
		DeviceInfo: req.DeviceInfo,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	message := "Login successful"
	if res.IsNewUser {
		message = "OTP verified, please complete your profile"
	}
	httputil.WriteJSON(w, http.StatusOK, VerifyOTPResponse{
		Success:   true,
		Message:   message,
		IsNewUser: res.IsNewUser,
		Phone:     res.User.Phone,
		AuthToken: res.Session.Token,
		User:      res.User,
	})
}

// CompleteProfile handles POST /api/v1/auth/complete-profile
func (h *AuthHandler) CompleteProfile(w http.ResponseWriter, r *http.Request) {
	var req CompleteProfileRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.service.CompleteProfile(r.Context(), req.AuthToken, req.FullName, domain.Gender(req.Gender))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, CompleteProfileResponse{
		Success:   true,
		Message:   "Profile completed successfully",
		User:      res.User,
		AuthToken: res.Session.Token,
	})
}

// Logout handles POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.service.Logout(r.Context(), req.AuthToken); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Logged out successfully"})
}

// Me handles GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())
	if p == nil {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), h.logger)
		return
	}

	user, err := h.users.GetUserWithRoles(r.Context(), p.UserID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, UserResponse{Success: true, User: user})
}

// OTPStats handles GET /api/v1/auth/otp-stats?phone=
func (h *AuthHandler) OTPStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.OTPStatistics(r.Context(), r.URL.Query().Get("phone"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, OTPStatsResponse{Success: true, OTPStats: stats})
}

// ValidateToken resolves a bearer token for middleware.Auth.
func (h *AuthHandler) ValidateToken(ctx context.Context, token string) (*middleware.Principal, error) {
	user, sess, err := h.service.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	return &middleware.Principal{UserID: user.ID, SessionID: sess.ID, Roles: user.Roles}, nil
}

// writeOTPError renders issuance failures. A delivery failure still returns
// the id of the stored code.
func (h *AuthHandler) writeOTPError(w http.ResponseWriter, r *http.Request, otp *domain.OTP, err error) {
	var appErr *apperrors.AppError
	if otp == nil || !errors.Is(err, apperrors.ErrDeliveryFailed) || !errors.As(err, &appErr) {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	logger.WithContext(r.Context(), h.logger).ErrorContext(r.Context(), "otp stored but not delivered",
		slog.String("otp_id", otp.ID),
		slog.String("error", err.Error()),
	)
	httputil.WriteJSON(w, appErr.Status, deliveryFailedResponse{
		Error: &httputil.ErrorResponse{
			Code:      appErr.Code,
			Message:   appErr.Message,
			RequestID: logger.CorrelationIDFromContext(r.Context()),
		},
		OTPID: otp.ID,
	})
}

// decode reads and validates a JSON body into dst. It writes the 400
// response itself and reports whether the handler should go on.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := validator.DecodeAndValidate(r, dst); err != nil {
		httputil.WriteValidationError(w, err)
		return false
	}
	return true
}
