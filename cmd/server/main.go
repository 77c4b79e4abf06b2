// Package main implements the rdpsnd demo gateway. It exposes the audio
// virtual channel over a WebSocket endpoint and streams a generated tone
// through the server endpoint to every connecting client.
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rcarmo/go-rdpsnd/internal/config"
	"github.com/rcarmo/go-rdpsnd/internal/logging"
	"github.com/rcarmo/go-rdpsnd/internal/protocol/audio"
	"github.com/rcarmo/go-rdpsnd/internal/rdpsnd"
	"github.com/rcarmo/go-rdpsnd/internal/transport"
)

var (
	appName    = "rdpsnd gateway"
	appVersion = "dev" // injected at build time via -ldflags
)

func main() {
	args, action := parseFlags()
	if action != "" {
		return
	}
	if err := run(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// parsedArgs holds the parsed command line arguments
type parsedArgs struct {
	host     string
	port     string
	logLevel string
}

func parseFlags() (parsedArgs, string) {
	return parseFlagsWithArgs(os.Args[1:])
}

// parseFlagsWithArgs parses the given arguments and returns the parsed args.
func parseFlagsWithArgs(args []string) (parsedArgs, string) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	hostFlag := fs.String("host", "", "gateway listen host")
	portFlag := fs.String("port", "", "gateway listen port")
	logLevelFlag := fs.String("log-level", "", "log level (debug, info, warn, error)")
	helpFlag := fs.Bool("help", false, "show help")
	versionFlag := fs.Bool("version", false, "show version")

	_ = fs.Parse(args)

	if *helpFlag {
		fs.PrintDefaults()
		return parsedArgs{}, "help"
	}
	if *versionFlag {
		fmt.Printf("%s %s\n", appName, appVersion)
		return parsedArgs{}, "version"
	}

	return parsedArgs{
		host:     strings.TrimSpace(*hostFlag),
		port:     strings.TrimSpace(*portFlag),
		logLevel: strings.TrimSpace(*logLevelFlag),
	}, ""
}

// run starts the gateway with the given arguments
func run(args parsedArgs) error {
	cfg, err := config.LoadWithOverrides(config.LoadOptions{
		Host:     args.host,
		Port:     args.port,
		LogLevel: args.logLevel,
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logging.SetLevelFromString(cfg.Logging.Level)

	server := createServer(cfg)
	logging.Info("Starting %s on %s:%s (tone %d Hz, %d ch @ %d Hz)",
		appName, cfg.Server.Host, cfg.Server.Port,
		cfg.Audio.ToneHz, cfg.Audio.Channels, cfg.Audio.SampleRate)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func createServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/audio", func(w http.ResponseWriter, r *http.Request) {
		serveAudio(w, r, cfg)
	})

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// serveAudio upgrades the request and runs one audio session over it.
func serveAudio(w http.ResponseWriter, r *http.Request, cfg *config.Config) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed: %v", err)
		return
	}

	session := uuid.NewString()
	logging.Info("session %s: client connected from %s", session, r.RemoteAddr)

	if err := runSession(session, conn, cfg); err != nil {
		logging.Info("session %s: ended: %v", session, err)
	} else {
		logging.Info("session %s: ended", session)
	}
}

// runSession drives one endpoint lifetime: handshake, format selection from
// the Activated callback, then tone streaming until the client goes away.
func runSession(session string, conn *websocket.Conn, cfg *config.Config) error {
	srcFormat := audio.AudioFormat{
		FormatTag:     audio.WAVE_FORMAT_PCM,
		Channels:      uint16(cfg.Audio.Channels),
		SamplesPerSec: uint32(cfg.Audio.SampleRate),
		BlockAlign:    uint16(cfg.Audio.Channels * cfg.Audio.BitsPerSample / 8),
		BitsPerSample: uint16(cfg.Audio.BitsPerSample),
	}

	endpoint := rdpsnd.New(transport.NewWSManager(conn))
	endpoint.SetSourceFormat(srcFormat)
	endpoint.SetServerFormats([]audio.AudioFormat{srcFormat})

	activated := make(chan struct{}, 1)
	endpoint.SetActivatedHandler(func(s *rdpsnd.Server) {
		s.SelectFormat(chooseFormat(s.ClientFormats(), cfg.Audio.PreferPCM))
		select {
		case activated <- struct{}{}:
		default:
		}
	})

	if err := endpoint.Start(); err != nil {
		_ = conn.Close()
		return err
	}
	defer endpoint.Free()

	select {
	case <-activated:
	case <-time.After(10 * time.Second):
		return fmt.Errorf("handshake timed out")
	}
	if endpoint.SelectedFormat() < 0 {
		return fmt.Errorf("no usable client format")
	}

	return streamTone(endpoint, cfg)
}

// chooseFormat picks the client format to target: PCM when preferred and
// offered, otherwise the first known format.
func chooseFormat(formats []audio.AudioFormat, preferPCM bool) int {
	first := -1
	for i := range formats {
		if !formats[i].Known() {
			continue
		}
		if first < 0 {
			first = i
		}
		if preferPCM && formats[i].FormatTag == audio.WAVE_FORMAT_PCM {
			return i
		}
	}
	return first
}

// streamTone pushes 10ms slices of a sine tone in real time until the
// channel write fails (client gone).
func streamTone(endpoint *rdpsnd.Server, cfg *config.Config) error {
	const sliceMs = 10
	frames := cfg.Audio.SampleRate * sliceMs / 1000
	buf := make([]byte, frames*cfg.Audio.Channels*cfg.Audio.BitsPerSample/8)

	ticker := time.NewTicker(sliceMs * time.Millisecond)
	defer ticker.Stop()

	var phase float64
	step := 2 * math.Pi * float64(cfg.Audio.ToneHz) / float64(cfg.Audio.SampleRate)

	for range ticker.C {
		fillTone(buf, frames, cfg.Audio.Channels, cfg.Audio.BitsPerSample, &phase, step)
		if err := endpoint.SendSamples(buf, frames); err != nil {
			_ = endpoint.Close()
			return err
		}
	}
	return nil
}

// fillTone writes one slice of sine samples into buf, advancing phase.
func fillTone(buf []byte, frames, channels, bits int, phase *float64, step float64) {
	for i := 0; i < frames; i++ {
		v := math.Sin(*phase)
		*phase += step
		if *phase > 2*math.Pi {
			*phase -= 2 * math.Pi
		}
		for ch := 0; ch < channels; ch++ {
			if bits == 16 {
				binary.LittleEndian.PutUint16(buf[(i*channels+ch)*2:], uint16(int16(v*16384)))
			} else {
				buf[i*channels+ch] = byte(int(v*96) + 128)
			}
		}
	}
}
