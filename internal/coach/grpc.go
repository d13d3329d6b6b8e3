package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/poiselabs/poise/internal/domain"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// adviseMethod is the full gRPC method of the premium coaching service. The
// service speaks structpb envelopes so the engine carries no generated stubs.
const adviseMethod = "/poise.coach.v1.CoachService/Advise"

// GRPCConfig holds configuration for the premium provider client.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGRPCConfig returns default configuration.
func DefaultGRPCConfig(addr string) GRPCConfig {
	return GRPCConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   3 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCProvider is the premium-tier coaching provider client.
type GRPCProvider struct {
	conn   *grpc.ClientConn
	cfg    GRPCConfig
	logger *slog.Logger
}

// NewGRPCProvider connects to the premium coaching service, failing fast if
// the endpoint is not ready within the connect timeout.
func NewGRPCProvider(cfg GRPCConfig, logger *slog.Logger) (*GRPCProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to coaching service at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("coaching service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to coaching service", "address", cfg.Address)
	return &GRPCProvider{conn: conn, cfg: cfg, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Advise implements Provider. A slow or failing remote is not fatal: the
// caller falls back to the local provider.
func (p *GRPCProvider) Advise(ctx context.Context, snap Snapshot) (*domain.CoachingCue, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	breakdown := make(map[string]interface{}, len(snap.Metrics.Breakdown))
	for dim, v := range snap.Metrics.Breakdown {
		breakdown[string(dim)] = v
	}
	req, err := structpb.NewStruct(map[string]interface{}{
		"overall":         snap.Metrics.Overall,
		"trend":           string(snap.Metrics.Trend),
		"breakdown":       breakdown,
		"throttle_mode":   string(snap.Mode),
		"elapsed_seconds": snap.Elapsed.Seconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("build advise request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := p.conn.Invoke(reqCtx, adviseMethod, req, resp); err != nil {
		return nil, fmt.Errorf("advise rpc: %w", err)
	}

	fields := resp.GetFields()
	message := fields["message"].GetStringValue()
	if message == "" {
		return nil, nil
	}

	priority := domain.CuePriority(fields["priority"].GetStringValue())
	switch priority {
	case domain.CuePriorityLow, domain.CuePriorityMedium, domain.CuePriorityHigh:
	default:
		priority = domain.CuePriorityMedium
	}

	return &domain.CoachingCue{
		ID:        uuid.NewString(),
		Message:   message,
		Priority:  priority,
		Timestamp: time.Now(),
	}, nil
}

// Close implements Provider.
func (p *GRPCProvider) Close() error {
	return p.conn.Close()
}
