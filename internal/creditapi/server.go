package creditapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	creditsv1 "github.com/MarkoPoloResearchLab/videocredits/api/credits/v1"
	"github.com/MarkoPoloResearchLab/videocredits/internal/servicetoken"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const claimsContextKey = "auth_claims"

// Run boots the HTTP API using the supplied configuration.
func Run(ctx context.Context, cfg Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("zap init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	dialOptions, err := ledgerDialOptions(cfg)
	if err != nil {
		return err
	}
	conn, err := grpc.NewClient(cfg.LedgerAddress, dialOptions...)
	if err != nil {
		return fmt.Errorf("connect ledger: %w", err)
	}
	conn.Connect()
	if err := waitForClientReady(ctx, conn); err != nil {
		_ = conn.Close()
		return fmt.Errorf("connect ledger: %w", err)
	}
	defer conn.Close()

	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}

	handler := &httpHandler{
		logger:       logger,
		ledgerClient: creditsv1.NewCreditServiceClient(conn),
		cfg:          cfg,
	}
	router := setupRouter(cfg, handler, sessionValidator.GinMiddleware(claimsContextKey))

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("creditapi listening", zap.String("addr", cfg.ListenAddr), zap.String("ledger_addr", cfg.LedgerAddress))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func ledgerDialOptions(cfg Config) ([]grpc.DialOption, error) {
	dialOptions := []grpc.DialOption{}
	if cfg.LedgerInsecure {
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	if cfg.ServiceTokenKey != "" {
		issuer, err := servicetoken.NewIssuer(servicetoken.Config{
			SigningKey: []byte(cfg.ServiceTokenKey),
			Issuer:     cfg.ServiceTokenIssuer,
		}, serviceTokenSubject, nil)
		if err != nil {
			return nil, fmt.Errorf("service token: %w", err)
		}
		dialOptions = append(dialOptions, grpc.WithPerRPCCredentials(issuer))
	}
	return dialOptions, nil
}

func setupRouter(cfg Config, handler *httpHandler, authMiddleware gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(authMiddleware)

	api.GET("/session", handler.handleSession)
	api.GET("/credits", handler.handleCredits)
	api.GET("/credits/history", handler.handleHistory)

	return router
}

type httpHandler struct {
	logger       *zap.Logger
	ledgerClient creditsv1.CreditServiceClient
	cfg          Config
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id":    claims.GetUserID(),
		"email":      claims.GetUserEmail(),
		"display":    claims.GetUserDisplayName(),
		"avatar_url": claims.GetUserAvatarURL(),
		"roles":      claims.GetUserRoles(),
		"expires":    claims.GetExpiresAt().Unix(),
	})
}

func (handler *httpHandler) handleCredits(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()

	balance, err := handler.ledgerClient.GetBalance(requestCtx, &creditsv1.BalanceRequest{AccountId: claims.GetUserID()})
	if err != nil {
		if isGRPCNotFound(err) {
			ctx.JSON(http.StatusOK, creditsPayload{Credits: 0})
			return
		}
		handler.respondLedgerError(ctx, "balance fetch failed", err)
		return
	}
	ctx.JSON(http.StatusOK, creditsPayload{Credits: balance.Credits})
}

func (handler *httpHandler) handleHistory(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var query historyQuery
	if err := ctx.ShouldBindQuery(&query); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_paging", "page and pageSize must be positive integers"))
		return
	}
	page, pageSize := handler.normalizePaging(query)

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()

	history, err := handler.ledgerClient.GetHistory(requestCtx, &creditsv1.HistoryRequest{
		AccountId: claims.GetUserID(),
		Page:      int32(page),
		PageSize:  int32(pageSize),
	})
	if err != nil {
		if isGRPCNotFound(err) {
			ctx.JSON(http.StatusOK, historyPayload{
				Transactions: []transactionPayload{},
				Pagination:   paginationPayload{Page: page, PageSize: pageSize},
			})
			return
		}
		handler.respondLedgerError(ctx, "history fetch failed", err)
		return
	}

	transactions := make([]transactionPayload, 0, len(history.Transactions))
	for _, item := range history.Transactions {
		transactions = append(transactions, transactionPayload{
			ID:             item.TransactionId,
			Kind:           item.Kind,
			Amount:         item.Amount,
			IsCredit:       item.IsCredit,
			Description:    item.Description,
			JobID:          item.JobId,
			VideoID:        item.VideoId,
			SubscriptionID: item.SubscriptionId,
			CreatedAt:      item.CreatedAt,
		})
	}
	pagination := paginationPayload{Page: page, PageSize: pageSize}
	if history.Pagination != nil {
		pagination = paginationPayload{
			Page:       int(history.Pagination.Page),
			PageSize:   int(history.Pagination.PageSize),
			TotalCount: history.Pagination.TotalCount,
			TotalPages: int(history.Pagination.TotalPages),
		}
	}
	ctx.JSON(http.StatusOK, historyPayload{Transactions: transactions, Pagination: pagination})
}

func (handler *httpHandler) normalizePaging(query historyQuery) (int, int) {
	page := query.Page
	if page == 0 {
		page = 1
	}
	pageSize := query.PageSize
	if pageSize == 0 {
		pageSize = handler.cfg.HistoryPageSize
	}
	if pageSize > maxHistoryPageSize {
		pageSize = maxHistoryPageSize
	}
	return page, pageSize
}

func (handler *httpHandler) respondLedgerError(ctx *gin.Context, message string, err error) {
	if statusInfo, ok := status.FromError(err); ok && statusInfo.Code() == codes.InvalidArgument {
		ctx.JSON(http.StatusBadRequest, errorResponse(statusInfo.Message(), message))
		return
	}
	handler.logger.Error(message, zap.Error(err))
	ctx.JSON(http.StatusBadGateway, errorResponse("ledger_error", message))
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func isGRPCNotFound(err error) bool {
	statusInfo, ok := status.FromError(err)
	if !ok {
		return false
	}
	return statusInfo.Code() == codes.NotFound
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type historyQuery struct {
	Page     int `form:"page" binding:"min=0,max=2147483647"`
	PageSize int `form:"pageSize" binding:"min=0"`
}

type creditsPayload struct {
	Credits int64 `json:"credits"`
}

type transactionPayload struct {
	ID             string    `json:"id"`
	Kind           string    `json:"type"`
	Amount         int64     `json:"amount"`
	IsCredit       bool      `json:"isCredit"`
	Description    string    `json:"description"`
	JobID          string    `json:"jobId,omitempty"`
	VideoID        string    `json:"videoId,omitempty"`
	SubscriptionID string    `json:"subscriptionId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type paginationPayload struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	TotalCount int64 `json:"totalCount"`
	TotalPages int   `json:"totalPages"`
}

type historyPayload struct {
	Transactions []transactionPayload `json:"transactions"`
	Pagination   paginationPayload    `json:"pagination"`
}

func waitForClientReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if state == connectivity.Shutdown {
			return errors.New("grpc connection shutdown before ready")
		}
		if !conn.WaitForStateChange(ctx, state) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return errors.New("grpc connection failed to reach ready state")
		}
	}
}
