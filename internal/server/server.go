// Package server bridges a robot controller to HTTP and WebSocket clients.
// Commands arrive as JSON, run one at a time on the controller, and the
// result is sent back to the caller; a telemetry loop broadcasts sensor
// values to every connected client.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/roomba-oi/internal/config"
	"github.com/shaunagostinho/roomba-oi/internal/oi"
)

// Robot is the controller surface the bridge drives. *robot.Controller
// implements it.
type Robot interface {
	Connect() error
	Disconnect() error
	Reset() error
	SafeMode() error
	FullMode() error
	Drive(velocity, radius int) error
	Stop() error
	SetLED(color, intensity int) error
	Sensor(id oi.PacketID) (byte, error)
	SensorValue(id oi.PacketID) (int, error)
	Mode() oi.Mode
	Connected() bool
	PortName() string
}

// Server coordinates telemetry polling and command execution for WebSocket
// and HTTP clients.
type Server struct {
	cfg      *config.Config
	robot    Robot
	webFS    fs.FS
	gatherer prometheus.Gatherer
	log      *logrus.Entry

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Command is one request from a client.
type Command struct {
	ID        int    `json:"id"`
	Op        string `json:"op"`
	Velocity  int    `json:"velocity,omitempty"`
	Radius    int    `json:"radius,omitempty"`
	Color     int    `json:"color,omitempty"`
	Intensity int    `json:"intensity,omitempty"`
	Packet    string `json:"packet,omitempty"`
}

// Reply is the result of one Command.
type Reply struct {
	ID    int     `json:"id"`
	Op    string  `json:"op"`
	OK    bool    `json:"ok"`
	Mode  oi.Mode `json:"mode"`
	Value *int    `json:"value,omitempty"`
	Error string  `json:"error,omitempty"`
}

// Status describes the link as the host sees it.
type Status struct {
	Mode      oi.Mode `json:"mode"`
	Connected bool    `json:"connected"`
	Port      string  `json:"port,omitempty"`
}

// Frame is the JSON structure sent to WebSocket clients.
type Frame struct {
	Reply     *Reply         `json:"reply,omitempty"`
	Status    *Status        `json:"status,omitempty"`
	Telemetry map[string]int `json:"telemetry,omitempty"`
	Stamp     int64          `json:"stamp"` // Unix ms
}

// New creates a Server. gatherer backs /metrics and may be nil.
func New(cfg *config.Config, r Robot, gatherer prometheus.Gatherer, webFS fs.FS, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.WithField("component", "server")
	}
	return &Server{
		cfg:      cfg,
		robot:    r,
		webFS:    webFS,
		gatherer: gatherer,
		log:      log,
		clients:  make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/command", s.handleCommand)
	mux.HandleFunc("/api/config", s.handleConfig)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Run serves HTTP and polls telemetry until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.pollLoop(ctx)

	addr := s.cfg.ServerSettings().ListenAddr
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.log.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Execute runs one command on the robot.
func (s *Server) Execute(cmd Command) Reply {
	reply := Reply{ID: cmd.ID, Op: cmd.Op}

	var (
		err   error
		value int
		has   bool
	)
	switch strings.ToLower(cmd.Op) {
	case "connect":
		err = s.robot.Connect()
	case "disconnect":
		err = s.robot.Disconnect()
	case "reset":
		err = s.robot.Reset()
	case "safe":
		err = s.robot.SafeMode()
	case "full":
		err = s.robot.FullMode()
	case "drive":
		err = s.robot.Drive(cmd.Velocity, cmd.Radius)
	case "stop":
		err = s.robot.Stop()
	case "led":
		err = s.robot.SetLED(cmd.Color, cmd.Intensity)
	case "sensor", "value":
		var id oi.PacketID
		id, err = oi.ParsePacket(cmd.Packet)
		if err != nil {
			break
		}
		if strings.EqualFold(cmd.Op, "sensor") {
			var b byte
			b, err = s.robot.Sensor(id)
			value = int(b)
		} else {
			value, err = s.robot.SensorValue(id)
		}
		has = err == nil
	case "status":
	default:
		err = fmt.Errorf("unknown op %q", cmd.Op)
	}

	reply.Mode = s.robot.Mode()
	if err != nil {
		reply.Error = err.Error()
		s.log.WithError(err).WithField("op", cmd.Op).Debug("command failed")
		return reply
	}
	reply.OK = true
	if has {
		reply.Value = &value
	}
	return reply
}

func (s *Server) status() *Status {
	return &Status{
		Mode:      s.robot.Mode(),
		Connected: s.robot.Connected(),
		Port:      s.robot.PortName(),
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.log.WithField("clients", n).Info("client connected")

	if data, err := json.Marshal(Frame{Status: s.status(), Stamp: time.Now().UnixMilli()}); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine: each message is a Command.
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			s.log.WithField("clients", n).Info("client disconnected")
		}()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd Command
			var reply Reply
			if err := json.Unmarshal(msg, &cmd); err != nil {
				reply = Reply{Error: fmt.Sprintf("bad command: %v", err), Mode: s.robot.Mode()}
			} else {
				reply = s.Execute(cmd)
			}
			data, err := json.Marshal(Frame{Reply: &reply, Stamp: time.Now().UnixMilli()})
			if err != nil {
				continue
			}
			select {
			case client.send <- data:
			default:
			}
		}
	}()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	reply := s.Execute(cmd)
	code := http.StatusOK
	if !reply.OK {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, reply)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		previous, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.cfg.Validate(); err != nil {
			if rbErr := s.cfg.UpdateFromJSON(previous); rbErr != nil {
				s.log.WithError(rbErr).Error("config rollback failed")
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.cfg.Save(); err != nil {
			s.log.WithError(err).Warn("config save failed")
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// pollLoop reads the configured telemetry packets while the robot is not
// off and broadcasts them. The rate is re-read on every tick so config
// updates apply without a restart.
func (s *Server) pollLoop(ctx context.Context) {
	for {
		rate := s.cfg.TelemetryRate()
		if rate <= 0 {
			rate = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(rate):
		}

		if s.cfg.TelemetryRate() <= 0 || s.robot.Mode() == oi.ModeOff {
			continue
		}
		if values := s.sample(); values != nil {
			s.broadcast(Frame{
				Status:    s.status(),
				Telemetry: values,
				Stamp:     time.Now().UnixMilli(),
			})
		}
	}
}

// sample reads every telemetry packet. It stops at the first failure and
// returns what it has so far.
func (s *Server) sample() map[string]int {
	ids, err := s.cfg.TelemetryPackets()
	if err != nil {
		s.log.WithError(err).Warn("telemetry packets")
		return nil
	}
	values := make(map[string]int, len(ids))
	for _, id := range ids {
		v, err := s.robot.SensorValue(id)
		if err != nil {
			s.log.WithError(err).WithField("packet", id.String()).Debug("telemetry read failed")
			break
		}
		values[id.String()] = v
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
