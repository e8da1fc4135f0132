package handler

import (
	"inkroom/internal/app/board"
	"inkroom/internal/configs"
	"inkroom/internal/pkg/limiter"
)

// AppDeps is everything the HTTP layer needs.
type AppDeps struct {
	Controller     *board.Controller
	Config         *configs.AppConfig
	UpgradeLimiter *limiter.IPRateLimiter
}
