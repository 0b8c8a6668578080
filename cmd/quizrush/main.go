package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quizrush/quizrush/internal/config"
	"github.com/quizrush/quizrush/internal/countdown"
	"github.com/quizrush/quizrush/internal/identity"
	"github.com/quizrush/quizrush/internal/lobby"
	"github.com/quizrush/quizrush/internal/protocol"
	"github.com/quizrush/quizrush/internal/route"
	"github.com/quizrush/quizrush/internal/session"
	"github.com/quizrush/quizrush/internal/transport"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	user := identity.FromEnv(cfg.User.ID, cfg.User.Name, cfg.User.ImageURL).User()
	log.Info().Str("user_id", user.ID).Str("name", user.Name).Msg("identity ready")

	clock := clockwork.NewRealClock()

	tcfg := transport.DefaultConfig(cfg.Server.URL)
	tcfg.ReconnectWait = time.Duration(cfg.Server.ReconnectWaitSec) * time.Second
	tcfg.HandshakeTimeout = time.Duration(cfg.Server.HandshakeSec) * time.Second
	tcfg.PingInterval = time.Duration(cfg.Server.PingIntervalSec) * time.Second

	handle := transport.New(tcfg, clock)
	if err := handle.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start transport")
	}
	defer handle.Close()

	app := newApp(handle, clock, user)
	app.run(ctx)
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// app owns the view switching. Controllers propose navigation by posting a
// route; the switch itself always happens on the run goroutine, so a
// controller is never stopped from inside its own loop.
type app struct {
	handle *transport.Handle
	clock  clockwork.Clock
	user   identity.User

	routeCh chan route.Route
	inputCh chan string

	lobbyCtrl *lobby.Controller
	gameCtrl  *session.Controller
}

func newApp(handle *transport.Handle, clock clockwork.Clock, user identity.User) *app {
	return &app{
		handle:  handle,
		clock:   clock,
		user:    user,
		routeCh: make(chan route.Route, 4),
		inputCh: make(chan string),
	}
}

// Navigate implements route.Navigator.
func (a *app) Navigate(r route.Route) {
	select {
	case a.routeCh <- r:
	default:
		log.Warn().Msg("navigation queue full, dropping route change")
	}
}

func (a *app) run(ctx context.Context) {
	go a.readInput(ctx)

	a.enterLobby(ctx)

	for {
		select {
		case <-ctx.Done():
			a.leaveViews()
			return
		case r := <-a.routeCh:
			switch r := r.(type) {
			case route.Lobby:
				a.leaveViews()
				a.enterLobby(ctx)
			case route.Game:
				a.leaveViews()
				a.enterGame(ctx, r.RoomCode)
			}
		case line := <-a.inputCh:
			a.handleInput(line)
		}
	}
}

func (a *app) enterLobby(ctx context.Context) {
	a.lobbyCtrl = lobby.New(a.handle, a, a.user, renderLobby)
	if err := a.lobbyCtrl.Start(ctx); err != nil {
		log.Error().Err(err).Msg("failed to start lobby")
	}
	fmt.Println("== Lobby == comandos: create | join <código> | quit")
}

func (a *app) enterGame(ctx context.Context, roomCode string) {
	r := &sessionRenderer{}
	var ctrl *session.Controller
	ctrl = session.New(a.handle, a.clock, a, a.user, roomCode, func(st session.State) {
		r.render(st, ctrl)
	})
	a.gameCtrl = ctrl
	if err := a.gameCtrl.Start(ctx); err != nil {
		log.Error().Err(err).Msg("failed to start game session")
	}
	fmt.Printf("== Sala %s == responde con el número de la opción\n", roomCode)
}

func (a *app) leaveViews() {
	if a.gameCtrl != nil {
		a.gameCtrl.Stop()
		a.gameCtrl = nil
	}
	if a.lobbyCtrl != nil {
		a.lobbyCtrl.Stop()
		a.lobbyCtrl = nil
	}
}

func (a *app) readInput(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case a.inputCh <- line:
		case <-ctx.Done():
			return
		}
	}
}

func (a *app) handleInput(line string) {
	if a.gameCtrl != nil {
		a.handleGameInput(line)
		return
	}
	if a.lobbyCtrl == nil {
		return
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "create":
		a.lobbyCtrl.CreateRoom()
	case "join":
		if len(fields) < 2 {
			fmt.Println("uso: join <código>")
			return
		}
		a.lobbyCtrl.JoinRoom(fields[1])
	case "quit":
		os.Exit(0)
	default:
		fmt.Println("comandos: create | join <código> | quit")
	}
}

func (a *app) handleGameInput(line string) {
	st := a.gameCtrl.State()
	if st.Phase != session.PhaseQuestion || st.Question == nil {
		return
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(st.Question.Options) {
		fmt.Printf("responde con un número entre 1 y %d\n", len(st.Question.Options))
		return
	}
	a.gameCtrl.SubmitAnswer(st.Question.Options[n-1])
}

func renderLobby(st lobby.State) {
	if st.CurrentRoom != nil {
		fmt.Printf("Sala %s - jugadores:\n", st.CurrentRoom.RoomCode)
		for _, p := range st.CurrentRoom.Players {
			fmt.Printf("  %s (%s)\n", p.Name, p.Status)
		}
		return
	}
	fmt.Printf("Salas abiertas: %d\n", len(st.Rooms))
	for _, r := range st.Rooms {
		fmt.Printf("  %s - %d jugador(es)\n", r.RoomCode, len(r.Players))
	}
}

// formatRoster renders the in-game player list, marking eliminated players.
func formatRoster(players []protocol.Player) string {
	if len(players) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Jugadores:\n")
	for _, p := range players {
		if p.Status == protocol.PlayerEliminated {
			fmt.Fprintf(&b, "  ✖ %s (eliminado)\n", p.Name)
		} else {
			fmt.Fprintf(&b, "  • %s\n", p.Name)
		}
	}
	return b.String()
}

// sessionRenderer dedupes the per-tick notifications so the question text
// prints once and ticks only update the remaining time.
type sessionRenderer struct {
	lastPhase     session.Phase
	lastRemaining int
	lastDisplayed string
	lastRoster    string
}

func (r *sessionRenderer) render(st session.State, ctrl *session.Controller) {
	if roster := formatRoster(st.Players); roster != r.lastRoster {
		r.lastRoster = roster
		fmt.Print(roster)
	}

	entering := st.Phase != r.lastPhase
	r.lastPhase = st.Phase

	switch st.Phase {
	case session.PhaseWaiting:
		if entering {
			fmt.Println("Esperando a que inicie la ronda...")
		}
	case session.PhaseRoulette:
		if displayed := ctrl.Wheel().Displayed(); displayed != r.lastDisplayed {
			r.lastDisplayed = displayed
			fmt.Printf("\r🎡 %-12s", displayed)
			if ctrl.Wheel().Settled() {
				fmt.Printf("\nCategoría seleccionada: %s\n", st.Category)
			}
		}
	case session.PhaseQuestion:
		if entering && st.Question != nil {
			fmt.Printf("\n%s\n", st.Question.Text)
			for i, opt := range st.Question.Options {
				fmt.Printf("  %d. %s\n", i+1, opt)
			}
		}
		if remaining := ctrl.Countdown().Remaining(); remaining != r.lastRemaining {
			r.lastRemaining = remaining
			fmt.Printf("  tiempo restante: %ds (%s)\n", remaining, levelLabel(ctrl.Countdown().Level()))
		}
	case session.PhaseFeedback:
		if entering && st.Feedback != nil {
			if st.Feedback.Correct {
				fmt.Println("✅ ¡Respuesta correcta!")
			} else {
				fmt.Println("❌ Respuesta incorrecta")
			}
		}
	case session.PhaseResult:
		if st.Result == nil || !entering {
			return
		}
		switch st.Result.Kind {
		case session.ResultCorrect:
			fmt.Println("✅ ¡Respuesta correcta! Pasas a la siguiente ronda.")
		case session.ResultEliminated:
			fmt.Println("❌ ¡Has sido eliminado!")
		case session.ResultTimeout:
			fmt.Println("⌛ Tiempo agotado.")
		case session.ResultWinner:
			if st.Result.Player != nil {
				fmt.Printf("🏆 Ganador: %s\n", st.Result.Player.Name)
			}
		case session.ResultEnded:
			fmt.Printf("Juego terminado: %s\n", st.Result.Message)
		}
	}
}

func levelLabel(l countdown.Level) string {
	switch l {
	case countdown.LevelNominal:
		return "verde"
	case countdown.LevelWarning:
		return "amarillo"
	default:
		return "rojo"
	}
}
