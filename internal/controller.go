package internal

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/sverick/couchnet/internal/core"
	coredata "github.com/sverick/couchnet/internal/core/data"
	"github.com/sverick/couchnet/internal/core/debug"
	"github.com/sverick/couchnet/internal/directory"
	"github.com/sverick/couchnet/internal/gamestate"
	"github.com/sverick/couchnet/internal/lobby"
	"github.com/sverick/couchnet/internal/session"
	"github.com/sverick/couchnet/internal/world"
)

// Controller is the main entrypoint for the server. It's responsible for
// initializing any shared resources (such as database and logging), wiring up
// the session components, and launching everything.
type Controller struct {
	Config *core.Config

	logger *logrus.Logger
	db     *gorm.DB
	wg     sync.WaitGroup

	lobbyServer *lobby.Server
	frontend    *frontend

	mu             sync.Mutex
	currentMatchID uint64
}

func (c *Controller) Start(ctx context.Context) error {
	defer c.Shutdown()

	var err error
	// Set up the logger, which will be used by all components.
	c.logger, err = core.NewLogger(c.Config)
	if err != nil {
		return err
	}

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.PprofEnabled {
		debug.StartUtilities(c.logger, c.Config.Debugging.PprofPort)
	}

	if c.Config.Database.Engine != "" {
		c.db, err = coredata.Initialize(c.Config)
		if err != nil {
			c.logger.Errorf("error initializing database: %v", err)
			return err
		}
		c.logger.Infof("connected to %s database", c.Config.Database.Engine)
	}

	c.declareServers()
	return c.run(ctx)
}

// LobbyServer returns the lobby backend, available once Start has wired it.
func (c *Controller) LobbyServer() *lobby.Server {
	return c.lobbyServer
}

// declareServers builds the session components and hands them to the lobby
// backend. Every collaborator is constructed here so nothing reaches for
// hidden global state.
func (c *Controller) declareServers() {
	dir := directory.New(c.logger)
	sess := session.NewMachine(c.logger)
	w := world.New(c.logger)
	loader := world.NewLoader(c.Config.LobbyServer.Scenes)

	c.lobbyServer = &lobby.Server{
		Name:      "LOBBY",
		Config:    c.Config,
		Logger:    c.logger,
		Directory: dir,
		Session:   sess,
		World:     w,
		Loader:    loader,
		DB:        c.db,
	}

	c.frontend = &frontend{
		Address: c.Config.LobbyAddress(),
		Backend: c.lobbyServer,
		Config:  c.Config,
		Logger:  c.logger,
	}
}

func (c *Controller) run(ctx context.Context) error {
	if err := c.frontend.Start(ctx, &c.wg); err != nil {
		c.logger.Errorf("error starting %s server: %v", c.lobbyServer.Identifier(), err)
		return err
	}

	// Persist match lifecycle transitions as they happen.
	if c.db != nil {
		c.lobbyServer.Game.OnPhaseChanged(c.recordPhaseChange)
	}

	c.wg.Wait()
	return nil
}

// recordPhaseChange writes match history records as the authoritative state
// machine moves between phases.
func (c *Controller) recordPhaseChange(phase gamestate.Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch phase {
	case gamestate.Playing:
		match, err := coredata.CreateMatch(c.db, c.Config.LobbyServer.Scene)
		if err != nil {
			c.logger.Errorf("error recording match start: %v", err)
			return
		}
		c.currentMatchID = match.ID
	case gamestate.Ending:
		if c.currentMatchID == 0 {
			return
		}
		if err := coredata.FinishMatch(c.db, c.currentMatchID); err != nil {
			c.logger.Errorf("error recording match end: %v", err)
		}
		c.currentMatchID = 0
	}
}

func (c *Controller) Shutdown() {
	c.wg.Wait()

	if c.db != nil {
		if err := coredata.Shutdown(c.db); err != nil {
			c.logger.Warnf("error closing database: %v", err)
		}
	}
}
