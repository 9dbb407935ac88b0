// Package node defines the coordinator node process. It assembles the
// document store, the background services and the API server into one
// service registry and handles the lifecycle of the entire system.
package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/zkmpc/ceremonyd/ceremony/lifecycle"
	"github.com/zkmpc/ceremonyd/ceremony/scheduler"
	"github.com/zkmpc/ceremonyd/ceremony/sweeper"
	"github.com/zkmpc/ceremonyd/ceremony/verify"
	"github.com/zkmpc/ceremonyd/db"
	"github.com/zkmpc/ceremonyd/monitoring/backup"
	"github.com/zkmpc/ceremonyd/monitoring/prometheus"
	"github.com/zkmpc/ceremonyd/monitoring/tracing"
	"github.com/zkmpc/ceremonyd/params"
	"github.com/zkmpc/ceremonyd/rpc"
	"github.com/zkmpc/ceremonyd/runtime"
	"github.com/zkmpc/ceremonyd/shared/cmd"
	"github.com/zkmpc/ceremonyd/shared/flags"
	"github.com/zkmpc/ceremonyd/storage"
	"github.com/zkmpc/ceremonyd/storage/s3"
	"github.com/zkmpc/ceremonyd/time/clock"
	"github.com/zkmpc/ceremonyd/vm"
	"github.com/zkmpc/ceremonyd/vm/awsvm"
)

var log = logrus.WithField("prefix", "node")

// CoordinatorNode handles the services running a ceremony coordinator. It
// handles the lifecycle of the entire system and registers services to a
// service registry.
type CoordinatorNode struct {
	cliCtx   *cli.Context
	ctx      context.Context
	cancel   context.CancelFunc
	lock     sync.RWMutex
	services *runtime.ServiceRegistry
	stop     chan struct{} // Channel to wait for termination notifications.
	db       db.Database
}

// New creates a new node instance, sets up configuration options, and
// registers every required service.
func New(cliCtx *cli.Context) (*CoordinatorNode, error) {
	processName := cliCtx.String(cmd.TracingProcessNameFlag.Name)
	if processName == "" {
		processName = "coordinator"
	}
	if err := tracing.Setup(
		processName,
		cliCtx.String(cmd.TracingEndpointFlag.Name),
		cliCtx.Float64(cmd.TraceSampleFractionFlag.Name),
		cliCtx.Bool(cmd.EnableTracingFlag.Name),
	); err != nil {
		return nil, err
	}

	configureParams(cliCtx)

	ctx, cancel := context.WithCancel(cliCtx.Context)
	node := &CoordinatorNode{
		cliCtx:   cliCtx,
		ctx:      ctx,
		cancel:   cancel,
		services: runtime.NewServiceRegistry(),
		stop:     make(chan struct{}),
	}

	sysClock := clock.System{}

	if err := node.startDB(cliCtx, sysClock); err != nil {
		cancel()
		return nil, err
	}

	blobs, err := s3.New(&s3.Config{
		Region:          params.CoordinatorConfig().AWSRegion,
		AccessKeyID:     cliCtx.String(flags.AWSAccessKeyFlag.Name),
		SecretAccessKey: cliCtx.String(flags.AWSSecretKeyFlag.Name),
		Endpoint:        params.CoordinatorConfig().AWSEndpoint,
	})
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "could not connect blob store")
	}
	executor, err := awsvm.New(&awsvm.Config{
		Region:          params.CoordinatorConfig().AWSRegion,
		AccessKeyID:     cliCtx.String(flags.AWSAccessKeyFlag.Name),
		SecretAccessKey: cliCtx.String(flags.AWSSecretKeyFlag.Name),
	})
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "could not connect VM executor")
	}

	if err := node.registerServices(cliCtx, sysClock, blobs, executor); err != nil {
		cancel()
		return nil, err
	}
	return node, nil
}

// configureParams overrides the process-global config from command line flags.
func configureParams(cliCtx *cli.Context) {
	c := params.CoordinatorConfig().Copy()
	if cliCtx.IsSet(flags.EmailDomainFlag.Name) {
		c.EmailDomain = cliCtx.String(flags.EmailDomainFlag.Name)
	}
	if cliCtx.IsSet(flags.BucketPostfixFlag.Name) {
		c.BucketPostfix = cliCtx.String(flags.BucketPostfixFlag.Name)
	}
	if cliCtx.IsSet(flags.PresignExpirationFlag.Name) {
		c.PresignExpiration = cliCtx.Duration(flags.PresignExpirationFlag.Name)
	}
	if cliCtx.IsSet(flags.AWSRegionFlag.Name) {
		c.AWSRegion = cliCtx.String(flags.AWSRegionFlag.Name)
	}
	if cliCtx.IsSet(flags.AWSEndpointFlag.Name) {
		c.AWSEndpoint = cliCtx.String(flags.AWSEndpointFlag.Name)
	}
	params.OverrideCoordinatorConfig(c)
}

func (n *CoordinatorNode) startDB(cliCtx *cli.Context, sysClock clock.Clock) error {
	baseDir := cliCtx.String(cmd.DataDirFlag.Name)
	clearDB := cliCtx.Bool(cmd.ClearDB.Name)
	forceClearDB := cliCtx.Bool(cmd.ForceClearDB.Name)

	log.WithField("database-path", baseDir).Info("Checking DB")
	d, err := db.NewDatabase(n.ctx, baseDir, sysClock)
	if err != nil {
		return err
	}
	clearDBConfirmed := false
	if clearDB && !forceClearDB {
		actionText := "This will delete the ceremony database stored in your data directory. " +
			"Your database backups will not be removed - do you want to proceed? (Y/N)"
		deniedText := "Database will not be deleted. No changes have been made."
		clearDBConfirmed, err = cmd.ConfirmAction(actionText, deniedText)
		if err != nil {
			return err
		}
	}
	if clearDBConfirmed || forceClearDB {
		log.Warning("Removing database")
		if err := d.ClearDB(); err != nil {
			return errors.Wrap(err, "could not clear database")
		}
		d, err = db.NewDatabase(n.ctx, baseDir, sysClock)
		if err != nil {
			return errors.Wrap(err, "could not create new database")
		}
	}
	n.db = d
	return nil
}

func (n *CoordinatorNode) registerServices(
	cliCtx *cli.Context,
	sysClock clock.Clock,
	blobs storage.BlobStore,
	executor vm.Executor,
) error {
	if err := n.services.RegisterService(scheduler.New(n.ctx, &scheduler.ServiceConfig{
		Database: n.db,
		Clock:    sysClock,
	})); err != nil {
		return err
	}
	if err := n.services.RegisterService(sweeper.New(n.ctx, &sweeper.ServiceConfig{
		Database: n.db,
		Clock:    sysClock,
	})); err != nil {
		return err
	}
	if err := n.services.RegisterService(lifecycle.New(n.ctx, &lifecycle.ServiceConfig{
		Database: n.db,
		Clock:    sysClock,
	})); err != nil {
		return err
	}

	secret, err := jwtSecret(cliCtx)
	if err != nil {
		return err
	}
	verifier := verify.New(&verify.Config{
		Database:   n.db,
		Blobs:      blobs,
		Executor:   executor,
		Clock:      sysClock,
		ScratchDir: cliCtx.String(flags.ScratchDirFlag.Name),
	})
	if err := n.services.RegisterService(rpc.New(n.ctx, &rpc.Config{
		Host:      cliCtx.String(flags.HTTPHost.Name),
		Port:      cliCtx.String(flags.HTTPPort.Name),
		JWTSecret: secret,
		Database:  n.db,
		Blobs:     blobs,
		Verifier:  verifier,
		Clock:     sysClock,
	})); err != nil {
		return err
	}

	if !cliCtx.Bool(cmd.DisableMonitoringFlag.Name) {
		return n.registerPrometheusService(cliCtx)
	}
	return nil
}

func (n *CoordinatorNode) registerPrometheusService(cliCtx *cli.Context) error {
	var additionalHandlers []prometheus.Handler
	additionalHandlers = append(additionalHandlers, prometheus.Handler{
		Path:    "/db/backup",
		Handler: backup.Handler(n.db, cliCtx.String(cmd.DataDirFlag.Name)),
	})
	service := prometheus.NewService(
		fmt.Sprintf("%s:%d", cliCtx.String(cmd.MonitoringHostFlag.Name), cliCtx.Int(cmd.MonitoringPortFlag.Name)),
		n.services,
		additionalHandlers...,
	)
	logrus.AddHook(prometheus.NewLogrusCollector())
	return n.services.RegisterService(service)
}

// jwtSecret resolves the API token secret from the direct flag or from the
// file the file flag points at.
func jwtSecret(cliCtx *cli.Context) ([]byte, error) {
	if s := cliCtx.String(flags.JWTSecretFlag.Name); s != "" {
		return []byte(s), nil
	}
	path := cliCtx.String(flags.JWTSecretFileFlag.Name)
	if path == "" {
		return nil, errors.New("an API token secret is required, set --" +
			flags.JWTSecretFlag.Name + " or --" + flags.JWTSecretFileFlag.Name)
	}
	raw, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, errors.Wrap(err, "could not read JWT secret file")
	}
	secret := []byte(strings.TrimSpace(string(raw)))
	if len(secret) == 0 {
		return nil, errors.New("JWT secret file is empty")
	}
	return secret, nil
}

// Start the coordinator and kick off every registered service.
func (n *CoordinatorNode) Start() {
	n.lock.Lock()
	n.services.StartAll()
	n.lock.Unlock()

	stop := n.stop
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic")
			}
		}
		panic("Panic closing the coordinator node")
	}()

	// Wait for stop channel to be closed.
	<-stop
}

// Close handles graceful shutdown of the system.
func (n *CoordinatorNode) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	log.Info("Stopping ceremony coordinator")
	n.services.StopAll()
	if err := n.db.Close(); err != nil {
		log.Errorf("Failed to close database: %v", err)
	}
	n.cancel()
	close(n.stop)
}
