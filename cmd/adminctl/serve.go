package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	adminauth "github.com/chimerakang/adminauth-go"
	"github.com/chimerakang/adminauth-go/capability"
	"github.com/chimerakang/adminauth-go/guard"
	"github.com/chimerakang/adminauth-go/middleware/ginmw"
)

func cmdServe(ctx context.Context, g *globals, fs *pflag.FlagSet, args []string, stdout io.Writer) error {
	var addr string
	sf := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	sf.StringVar(&addr, "addr", ":8080", "listen address")
	if err := sf.Parse(args); err != nil {
		return err
	}

	c, err := setup(ctx, g, fs)
	if err != nil {
		return err
	}
	defer c.Close()

	gin.SetMode(gin.ReleaseMode)
	engine := newRouter(c)

	srv := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	fmt.Fprintf(stdout, "admin console listening on %s\n", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newRouter mounts the session endpoints and one guarded route per CMS
// entity.
func newRouter(c *console) *gin.Engine {
	cfg := c.mgr.Config()
	guarded := func(required string) gin.HandlerFunc {
		return ginmw.Guard(c.mgr, guard.New(
			guard.Require(required),
			guard.WithFallback(cfg.LoginPath),
			guard.WithLogger(c.logger),
			guard.WithMetrics(c.metrics),
			guard.WithAudit(c.audit),
		))
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(ctx *gin.Context) { ctx.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})))
	r.POST(cfg.LoginPath, ginmw.Login(c.mgr))
	r.POST("/logout", ginmw.Logout(c.mgr, cfg.LoginPath))
	r.GET("/session", ginmw.Status(c.mgr))

	admin := r.Group("/admin")
	admin.GET("/dashboard", guarded(capability.DashboardRead), entityHandler(capability.Dashboard))
	for _, e := range capability.Entities {
		admin.GET("/"+e, guarded(capability.Read(e)), entityHandler(e))
		admin.POST("/"+e, guarded(capability.Write(e)), entityHandler(e))
	}
	return r
}

func entityHandler(entity string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		s, _ := adminauth.StateFromContext(ctx.Request.Context())
		ctx.JSON(http.StatusOK, gin.H{
			"entity": entity,
			"user":   s.User.DisplayName(),
			"roles":  s.Roles,
		})
	}
}
