// Command md2d is the control-plane daemon: it owns the Turbo-PMAC link,
// mirrors the remote hash store, runs scripted commands and the raster
// worker against the experiment database, and exposes an operator debug
// surface over tailnet. It starts no experiment-database notification
// listener, so actions queued in that database are not fetched.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/md2ctl/md2d/internal/adminweb"
	"github.com/md2ctl/md2d/internal/config"
	"github.com/md2ctl/md2d/internal/eventbus"
	"github.com/md2ctl/md2d/internal/kvmirror"
	"github.com/md2ctl/md2d/internal/logsink"
	"github.com/md2ctl/md2d/internal/md2cmds"
	"github.com/md2ctl/md2d/internal/monitoring"
	"github.com/md2ctl/md2d/internal/motor"
	"github.com/md2ctl/md2d/internal/opsdb"
	"github.com/md2ctl/md2d/internal/orchestrate"
	"github.com/md2ctl/md2d/internal/pmaclink"
	"github.com/md2ctl/md2d/internal/raster"
	"github.com/md2ctl/md2d/internal/sqlgateway"
	"github.com/md2ctl/md2d/internal/timersvc"
)

var (
	configFile  = flag.String("config", config.DefaultConfigPath, "path to JSON configuration file")
	listen      = flag.String("listen", ":8090", "HTTP listen address for the operator debug surface")
	disablePMAC = flag.Bool("disable-pmac", false, "skip connecting to the motion controller (serve debug routes only)")
	versionFlag = flag.Bool("version", false, "print version information and exit")
)

// Coordinate system assignment: CS1 carries the slow diffractometer axes,
// CS2 is omega alone (so the zero-crossing-armed rotation sweep's "&2"
// motion program doesn't contend with anything else moving), CS3 carries
// the sample-environment axes that only ever move one at a time during
// transfer/centering.
const (
	cs1Diffractometer = 1
	cs2Omega          = 2
	cs3Environment    = 3
)

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println("md2d (control-plane daemon)")
		os.Exit(0)
	}

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg := config.Empty()
	if _, err := os.Stat(*configFile); err == nil {
		loaded, err := config.Load(*configFile)
		if err != nil {
			log.Fatalf("md2d: load config %s: %v", *configFile, err)
		}
		cfg = loaded
		log.Printf("md2d: loaded configuration from %s", *configFile)
	} else {
		log.Printf("md2d: no config file at %s, using defaults", *configFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := eventbus.New(cfg.GetEventQueueLen())

	opsDB, err := opsdb.Open(cfg.GetOpsDBPath())
	if err != nil {
		log.Fatalf("md2d: open operational store: %v", err)
	}
	defer opsDB.Close()

	sink, err := logsink.New(cfg.GetLogQueueLen(), "", opsDB.DrainHook())
	if err != nil {
		log.Fatalf("md2d: create log sink: %v", err)
	}
	defer sink.Close()
	if err := sink.AttachEventForwarder(bus); err != nil {
		log.Fatalf("md2d: attach event forwarder: %v", err)
	}
	monitoring.SetLogger(sink.LogMessage)

	kvBackend := kvmirror.NewLocal()
	kv := kvmirror.New(kvBackend, bus, cfg.GetKVPrefix(), cfg.GetKVChannel(), cfg.GetKVUIChannel())
	defer kv.Close()

	var pmacAddr string
	if !*disablePMAC {
		pmacAddr = cfg.GetPMACAddress()
	}
	link := pmaclink.New(pmacAddr, time.Duration(cfg.GetPMACMinGapMs())*time.Millisecond,
		cfg.GetPMACReconnectInterval(), cfg.GetStatusPollHz(), cfg.GetPMACQueueLen(), bus)
	defer link.Close()

	waiters := map[int]*orchestrate.MoveWaiter{
		cs1Diffractometer: orchestrate.NewMoveWaiter(bus, cs1Diffractometer),
		cs2Omega:          orchestrate.NewMoveWaiter(bus, cs2Omega),
		cs3Environment:    orchestrate.NewMoveWaiter(bus, cs3Environment),
	}

	motors := buildMotors(link, kv, bus)
	inputs := map[string]*motor.BinaryInput{
		"backlight_down":    motor.NewBinaryInput("backlight_down", 1, bus),
		"fluorescence_back": motor.NewBinaryInput("fluorescence_back", 2, bus),
	}
	shutter := motor.NewFastShutter(bus)
	shutterControl := motor.NewBinaryOutput("fast_shutter", 0, 0, link)

	link.OnStatus(func(b pmaclink.Block) {
		for _, m := range motors {
			m.Read(b)
		}
		for _, in := range inputs {
			in.Read(b)
		}
		shutter.Read(b)
	})

	var sql *sqlgateway.Gateway
	if dsn := cfg.GetExperimentDSN(); dsn != "" {
		sql, err = sqlgateway.New(cfg.GetExperimentDriver(), dsn, cfg.GetSQLQueueLen(), sqlgateway.NullNotifier{})
		if err != nil {
			log.Fatalf("md2d: connect experiment database: %v", err)
		}
		defer sql.Close()
	}

	exec := md2cmds.New(link, bus, kv, sql)
	exec.Motors = motors
	exec.Inputs = inputs
	exec.Waiters = waiters
	exec.Shutter = shutter
	exec.ShutterControl = shutterControl

	submitter := &opsdb.AuditingSubmitter{DB: opsDB, Next: exec}

	timers := timersvc.New(bus)
	defer timers.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := opsDB.SaveSnapshot(saveCtx, kv.Snapshot())
				cancel()
				if err != nil {
					monitoring.Logf("md2d: save kv snapshot: %v", err)
				}
			}
		}
	}()

	var rasterWorker *raster.Worker
	if sql != nil {
		rasterWorker = raster.New(kvBackend, sql)
		defer rasterWorker.Close()

		// An external producer pushes onto a raster queue key, then
		// publishes "raster.<key>.push" on the bus to wake the drain loop
		// for that key.
		rasterKeyPattern := regexp.MustCompile(`^raster\.(.+)\.push$`)
		bus.AddListener(`^raster\..+\.push$`, func(name string) {
			m := rasterKeyPattern.FindStringSubmatch(name)
			if m == nil {
				return
			}
			if err := rasterWorker.Step(m[1]); err != nil {
				monitoring.Logf("md2d: raster step %s: %v", m[1], err)
			}
		})
	}

	mux := http.NewServeMux()
	admin := adminweb.New(mux)
	admin.AttachCommandConsole(submitter)
	admin.AttachEventTail(bus)
	if err := opsDB.AttachAdminRoutes(admin); err != nil {
		log.Fatalf("md2d: attach opsdb admin routes: %v", err)
	}

	server := &http.Server{Addr: *listen, Handler: mux}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("md2d: debug surface listening on %s", *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("md2d: http server error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("md2d: http server shutdown: %v", err)
		}
	}()

	log.Printf("md2d: running (pmac=%s, experiment-dsn=%s)", pmacAddr, cfg.GetExperimentDSN())
	wg.Wait()
	log.Printf("md2d: graceful shutdown complete")
}

// buildMotors wires every named axis the command executor's scripted
// operations reference (transfer, collect, rotate/nonrotate), mapping
// conventional MD2 axis names to PMAC motor numbers and their coordinate
// system per the cs1/cs2/cs3 split above. Each motor's motion-program axis
// letter assigns it a Q-slot/bank pair within its coordinate system (see
// internal/orchestrate's axisSlot/axisBank); its motion policy (limits,
// velocity/acceleration, in-position band, glitch threshold) is read from
// kv per motor, falling back to a conservative default when unset so an
// unconfigured deployment still enforces limits rather than silently
// disabling them.
func buildMotors(link *pmaclink.Link, kv *kvmirror.Mirror, bus *eventbus.Bus) map[string]*motor.Motor {
	type def struct {
		name          string
		axis          int
		cs            int
		letter        byte
		defaultMin    float64
		defaultMax    float64
		defaultVel    float64
		defaultAccel  float64
		defaultBand   float64
		defaultGlitch float64
	}
	defs := []def{
		{"kappa", 1, cs1Diffractometer, 'X', -180, 180, 30, 30, 0.01, 0x10000},
		{"phi", 2, cs1Diffractometer, 'Y', -1e9, 1e9, 90, 90, 0.01, 0x10000},
		{"cen_x", 3, cs1Diffractometer, 'Z', -2, 2, 1, 1, 0.0005, 0x10000},
		{"cen_y", 4, cs1Diffractometer, 'U', -2, 2, 1, 1, 0.0005, 0x10000},
		{"align_x", 5, cs1Diffractometer, 'V', -2, 2, 1, 1, 0.0005, 0x10000},
		{"align_y", 6, cs1Diffractometer, 'W', -2, 2, 1, 1, 0.0005, 0x10000},
		{"align_z", 7, cs1Diffractometer, 'A', -2, 2, 1, 1, 0.0005, 0x10000},
		{"capz", 8, cs1Diffractometer, 'B', -5, 50, 5, 5, 0.005, 0x10000},
		{"capy", 9, cs1Diffractometer, 'C', -5, 50, 5, 5, 0.005, 0x10000},
		{"omega", 10, cs2Omega, 'X', -360, 360, 600, 600, 0.01, 0x10000},
		{"scint", 11, cs3Environment, 'X', -5, 50, 5, 5, 0.005, 0x10000},
		{"backlight", 12, cs3Environment, 'Y', -5, 50, 5, 5, 0.005, 0x10000},
		{"cryo", 13, cs3Environment, 'Z', -5, 50, 5, 5, 0.005, 0x10000},
		{"fluorescence", 14, cs3Environment, 'U', -5, 50, 5, 5, 0.005, 0x10000},
	}
	out := make(map[string]*motor.Motor, len(defs))
	for _, d := range defs {
		m := motor.New(d.name, d.axis, d.cs, link, kv, bus, nil)
		m.Configure(motor.MotionPolicy{
			HasLimits:       true,
			MinPos:          kvDoubleOr(kv, d.name+".minPosition", d.defaultMin),
			MaxPos:          kvDoubleOr(kv, d.name+".maxPosition", d.defaultMax),
			MaxVelocity:     kvDoubleOr(kv, d.name+".maxVelocity", d.defaultVel),
			MaxAccel:        kvDoubleOr(kv, d.name+".maxAcceleration", d.defaultAccel),
			InPositionBand:  kvDoubleOr(kv, d.name+".inPositionBand", d.defaultBand),
			GlitchThreshold: kvDoubleOr(kv, d.name+".glitchThreshold", d.defaultGlitch),
			AxisLetter:      d.letter,
		})
		out[d.name] = m
	}
	return out
}

// kvDoubleOr reads a double from kv, falling back to def if kv is nil or the
// key is unset or not parseable as a float (the same defaulting idiom
// config.go uses for its own Get* accessors).
func kvDoubleOr(kv *kvmirror.Mirror, name string, def float64) float64 {
	if kv == nil {
		return def
	}
	if v, err := kv.GetDouble(name); err == nil {
		return v
	}
	return def
}
