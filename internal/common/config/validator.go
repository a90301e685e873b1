package config

import (
	"fmt"
	"strings"

	"github.com/amoylab/chatmesh/internal/common/cnst"
)

// ValidationError collects every problem found in a configuration
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid configuration:")
	for _, p := range e.Problems {
		sb.WriteString("\n--> ")
		sb.WriteString(p)
	}
	return sb.String()
}

// Validate checks a configuration after defaults have been applied
func Validate(cfg *ChatMeshConfig) error {
	var problems []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", cfg.Server.Port))
	}
	if !strings.HasPrefix(cfg.Server.WSPath, "/") {
		problems = append(problems, fmt.Sprintf("server.ws_path %q must start with '/'", cfg.Server.WSPath))
	}

	switch cfg.Redis.ClusterType {
	case cnst.RedisClusterTypeSingle, cnst.RedisClusterTypeCluster:
	case cnst.RedisClusterTypeSentinel:
		if cfg.Redis.MasterName == "" {
			problems = append(problems, "redis.master_name is required for sentinel")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported redis.cluster_type %q", cfg.Redis.ClusterType))
	}

	if cfg.Broker.DedupFloor > cfg.Broker.DedupHighWater {
		problems = append(problems, "broker.dedup_floor must not exceed broker.dedup_high_water")
	}

	switch cfg.Database.Type {
	case "sqlite", "mysql", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("unsupported database.type %q", cfg.Database.Type))
	}

	switch cfg.Auth.Mode {
	case cnst.AuthModeQuery:
	case cnst.AuthModeJWT:
		if cfg.Auth.JWT.SecretKey == "" {
			problems = append(problems, "auth.jwt.secret_key is required for jwt mode")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported auth.mode %q", cfg.Auth.Mode))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
