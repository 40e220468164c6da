package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codehub/controlplane/control_plane/activity"
	"github.com/codehub/controlplane/control_plane/auth"
	"github.com/codehub/controlplane/control_plane/coordination"
	"github.com/codehub/controlplane/control_plane/coordrt"
	"github.com/codehub/controlplane/control_plane/events"
	"github.com/codehub/controlplane/control_plane/eventlistener"
	"github.com/codehub/controlplane/control_plane/idempotency"
	"github.com/codehub/controlplane/control_plane/incident"
	"github.com/codehub/controlplane/control_plane/middleware"
	"github.com/codehub/controlplane/control_plane/observer"
	"github.com/codehub/controlplane/control_plane/proxy"
	"github.com/codehub/controlplane/control_plane/runtime"
	"github.com/codehub/controlplane/control_plane/scheduler"
	"github.com/codehub/controlplane/control_plane/store"
	"github.com/codehub/controlplane/control_plane/timeline"
	"github.com/codehub/controlplane/control_plane/wcontroller"
)

const (
	observerLockKey  = "observer"
	wcLockKey        = "wc"
	schedulerLockKey = "scheduler"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// nodeID identifies this process to the leader-election transition log;
// it does not need to be stable across restarts.
func nodeID() string {
	hostname, _ := os.Hostname()
	return hostname + "-" + ulid.Make().String()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	databaseURL := getenv("DATABASE_URL", "postgres://localhost:5432/codehub")
	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	resourcePrefix := getenv("RESOURCE_PREFIX", "codehub-ws-")
	adminUsername := getenv("ADMIN_USERNAME", "admin")
	adminPassword := getenv("ADMIN_PASSWORD", "qwer1234")
	node := nodeID()

	pool, err := store.NewPool(ctx, databaseURL)
	if err != nil {
		log.Fatalf("main: connect postgres pool: %v", err)
	}
	defer pool.Close()

	redis, err := store.NewRedisStore(redisAddr, "", 0)
	if err != nil {
		log.Fatalf("main: connect redis: %v", err)
	}

	// The real container-runtime Agent is an external collaborator (spec
	// §1): the core only depends on the abstract runtime.Port contract.
	// Mock stands in until a concrete Agent client is deployed alongside it.
	port := runtime.NewMock()

	if err := auth.BootstrapAdmin(ctx, pool, adminUsername, adminPassword); err != nil {
		log.Fatalf("main: bootstrap admin account: %v", err)
	}

	observerConn, err := store.NewCoordinatorConn(ctx, databaseURL)
	if err != nil {
		log.Fatalf("main: connect observer coordinator conn: %v", err)
	}
	wcConn, err := store.NewCoordinatorConn(ctx, databaseURL)
	if err != nil {
		log.Fatalf("main: connect wc coordinator conn: %v", err)
	}
	schedulerConn, err := store.NewCoordinatorConn(ctx, databaseURL)
	if err != nil {
		log.Fatalf("main: connect scheduler coordinator conn: %v", err)
	}
	eventsConn, err := store.NewCoordinatorConn(ctx, databaseURL)
	if err != nil {
		log.Fatalf("main: connect event listener coordinator conn: %v", err)
	}

	tl := timeline.NewStore()
	incidents := incident.NewStore()

	observerCoord := observer.New(observerConn, port, redis)
	observerElector := coordination.NewLeaderElection(observerConn, node, observerLockKey)
	observerLoop := coordrt.New("observer", observerElector, redis, store.WakeTargetObserver, node+"-observer", observerCoord.Tick)

	wc := wcontroller.New(wcConn, port, tl, incidents)
	wcElector := coordination.NewLeaderElection(wcConn, node, wcLockKey)
	wcLoop := coordrt.New("wc", wcElector, redis, store.WakeTargetWC, node+"-wc", wc.Tick)

	sched := scheduler.New(schedulerConn, redis, port, resourcePrefix)
	sched.GCDryRun = os.Getenv("CODEHUB_GC_DRY_RUN") == "true"
	schedulerElector := coordination.NewLeaderElection(schedulerConn, node, schedulerLockKey)
	schedulerLoop := coordrt.New("scheduler", schedulerElector, redis, store.WakeTargetScheduler, node+"-scheduler", sched.Tick)

	eventsElector := coordination.NewLeaderElection(eventsConn, node, eventlistener.LockKey)
	listener := eventlistener.New(eventsConn, eventsElector, redis)

	healthMonitor := coordination.NewRuntimeHealthMonitor(port, 30*time.Second, observer.ObserveTimeout, 3)
	healthMonitor.Start(ctx)

	go observerLoop.Run(ctx)
	go wcLoop.Run(ctx)
	go schedulerLoop.Run(ctx)
	go listener.Run(ctx)

	activityBuf := activity.NewBuffer(redis, activity.DefaultThrottleWindow)
	go activityBuf.StartFlushLoop(ctx, activity.DefaultFlushInterval)

	wakeDedup := idempotency.NewWakeDedup(redis, 30*time.Second)
	authenticator := auth.New(pool, pool)
	proxyServer := proxy.New(authenticator, pool, activityBuf, port, wakeDedup, proxy.DefaultMaxRunningPerUser)
	eventsHandler := events.New(authenticator, redis, pool)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /events", middleware.CORSMiddleware(eventsHandler))
	mux.HandleFunc("GET /w/{id}", proxyServer.RedirectTrailingSlash)
	mux.HandleFunc("/w/{id}/{path...}", proxyServer.HandleProxy)

	server := &http.Server{
		Addr:    ":8080",
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: graceful shutdown error: %v", err)
		}
	}()

	log.Println("codehub control plane listening on :8080")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: serve: %v", err)
	}
}
