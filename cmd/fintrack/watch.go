package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// watch は変更通知による同期を続け、METRICS_ADDR があれば /metrics と /status を公開する
func (c *cli) watch(ctx context.Context) error {
	st, err := c.resume(ctx)
	if err != nil {
		return err
	}

	var e *echo.Echo
	if c.cfg.MetricsAddr != "" {
		e = echo.New()
		e.HideBanner = true
		e.Any("/metrics", echo.WrapHandler(promhttp.Handler()))
		e.GET("/status", func(ec echo.Context) error {
			snap := st.Snapshot()
			return ec.JSON(http.StatusOK, map[string]any{
				"accounts":       len(snap.Accounts),
				"transactions":   len(snap.Transactions),
				"pendingRepairs": st.PendingRepairs(),
			})
		})
		go func() {
			c.log.Print(ctx, "starting http listener", "addr", c.cfg.MetricsAddr)
			if err := e.Start(c.cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.log.Error(ctx, "http listener failed", "err", err)
			}
		}()
	}

	c.log.Print(ctx, "watching for remote changes", "user", c.app.Session().UserID)
	select {
	case <-ctx.Done():
	case <-c.app.Done():
		c.log.Print(ctx, "change stream closed")
	}

	if e != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
	return nil
}
