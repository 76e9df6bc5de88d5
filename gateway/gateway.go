// Package gateway consumes decoded control messages and directory lookups to
// drive the control handshake and channel membership operations.
package gateway

import (
	"context"
	"time"

	"github.com/cyberinferno/voicenet/cacher"
	"github.com/cyberinferno/voicenet/channel"
	"github.com/cyberinferno/voicenet/logger"
	"github.com/cyberinferno/voicenet/protocol"
	"github.com/cyberinferno/voicenet/session"
)

// State is the per-connection position in the control handshake machine.
type State int

const (
	// StateAwaitingHandshake is the state of a fresh control connection; the
	// only message accepted is a handshake announcement.
	StateAwaitingHandshake State = iota
	// StateEstablished is entered after a successful handshake; all other
	// message kinds require it.
	StateEstablished
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "AwaitingHandshake"
	case StateEstablished:
		return "Established"
	default:
		return "Unknown"
	}
}

// Error codes carried in error replies.
const (
	CodeHandshakeRequired = "handshake_required"
	CodeAlreadyDone       = "already_established"
	CodeUnknownChannel    = "unknown_channel"
	CodeInvalidChannel    = "invalid_channel"
	CodePermissionDenied  = "permission_denied"
	CodeUnknownMessage    = "unknown_message"
	CodeInternalError     = "internal_error"
)

// EstablishedHandler is notified once per session when its handshake
// completes, carrying the welcome payload the datagram-authentication layer
// needs. Implementations must be safe for concurrent use; the gateway calls
// them from connection goroutines.
type EstablishedHandler interface {
	SessionEstablished(s *session.Session, welcome session.WelcomePayload)
}

// EstablishedHandlerFunc adapts a function to the EstablishedHandler interface.
type EstablishedHandlerFunc func(s *session.Session, welcome session.WelcomePayload)

// SessionEstablished implements EstablishedHandler.
func (f EstablishedHandlerFunc) SessionEstablished(s *session.Session, welcome session.WelcomePayload) {
	f(s, welcome)
}

// FetchPermissionsFunc resolves the permission set for a session from the
// server's permission source (roles, configuration, an external service).
type FetchPermissionsFunc func(ctx context.Context, s *session.Session) (channel.PermissionSet, error)

// Config holds the collaborators and settings for a Gateway.
type Config struct {
	// Directory is the shared session directory.
	Directory *session.Directory
	// Channels is the server's channel registry.
	Channels *channel.Registry
	// Permissions caches resolved permission sets keyed by connection ID.
	// Defaults to an in-memory cache when nil.
	Permissions cacher.Cacher[channel.PermissionSet]
	// FetchPermissions resolves a session's permissions on cache misses.
	// Defaults to granting connect, speak, and listen when nil.
	FetchPermissions FetchPermissionsFunc
	// PermissionTTL is how long a resolved permission set stays cached.
	// Defaults to one minute when zero.
	PermissionTTL time.Duration
	// ServerVersion is echoed in every handshake acknowledgement.
	ServerVersion string
	// Established, if set, is notified when a session completes its handshake.
	Established EstablishedHandler
	// Logger receives gateway activity. Defaults to a no-op logger when nil.
	Logger logger.Logger
}

// Gateway implements the control-plane message dispatch on top of the
// session directory and channel registry. One Gateway instance serves every
// connection; per-connection state is the caller-held State value.
type Gateway struct {
	directory     *session.Directory
	channels      *channel.Registry
	perms         cacher.Cacher[channel.PermissionSet]
	fetchPerms    FetchPermissionsFunc
	permTTL       time.Duration
	serverVersion string
	established   EstablishedHandler
	log           logger.Logger
}

// New creates a Gateway from the given configuration, applying defaults for
// any optional collaborator left nil.
//
// Parameters:
//   - cfg: Gateway configuration; Directory and Channels are required
//
// Returns:
//   - A Gateway ready to handle messages
func New(cfg Config) *Gateway {
	g := &Gateway{
		directory:     cfg.Directory,
		channels:      cfg.Channels,
		perms:         cfg.Permissions,
		fetchPerms:    cfg.FetchPermissions,
		permTTL:       cfg.PermissionTTL,
		serverVersion: cfg.ServerVersion,
		established:   cfg.Established,
		log:           cfg.Logger,
	}

	if g.perms == nil {
		g.perms = cacher.NewMemoryCacher[channel.PermissionSet](time.Minute, 5*time.Minute)
	}
	if g.fetchPerms == nil {
		g.fetchPerms = func(context.Context, *session.Session) (channel.PermissionSet, error) {
			return channel.PermConnect | channel.PermSpeak | channel.PermListen, nil
		}
	}
	if g.permTTL <= 0 {
		g.permTTL = time.Minute
	}
	if g.log == nil {
		g.log = logger.NewNopLogger()
	}

	return g
}

// HandleMessage dispatches one decoded message for a session, advancing the
// connection's handshake state as a side effect.
//
// Parameters:
//   - ctx: Context for the operation, passed to permission resolution
//   - s: The session the message arrived on
//   - state: The connection's handshake state; advanced in place
//   - msg: The decoded message
//
// Returns:
//   - Zero or more reply messages for the connection to send back, in order
func (g *Gateway) HandleMessage(ctx context.Context, s *session.Session, state *State, msg protocol.Message) []protocol.Message {
	if *state == StateAwaitingHandshake {
		if msg.Kind != protocol.KindHandshake {
			g.log.Warn("message before handshake",
				logger.Field{Key: "conn", Value: s.ConnectionID},
				logger.Field{Key: "kind", Value: string(msg.Kind)})
			return []protocol.Message{protocol.NewError(CodeHandshakeRequired, "first message must be a handshake")}
		}
		return g.handleHandshake(ctx, s, state, msg.Handshake)
	}

	switch msg.Kind {
	case protocol.KindHandshake:
		return []protocol.Message{protocol.NewError(CodeAlreadyDone, "handshake already completed")}
	case protocol.KindJoinChannel:
		return g.handleJoin(ctx, s, msg.JoinChannel.ChannelID)
	case protocol.KindLeaveChannel:
		s.SubscribedChannels.Remove(msg.LeaveChannel.ChannelID)
		g.log.Debug("channel left",
			logger.Field{Key: "conn", Value: s.ConnectionID},
			logger.Field{Key: "channel", Value: msg.LeaveChannel.ChannelID})
		return nil
	case protocol.KindUserState:
		// Self-mute/deafen is relayed by the audio plane; nothing to record here.
		return nil
	case protocol.KindError:
		g.log.Warn("client reported error",
			logger.Field{Key: "conn", Value: s.ConnectionID},
			logger.Field{Key: "code", Value: msg.Error.Code},
			logger.Field{Key: "message", Value: msg.Error.Message})
		return nil
	case protocol.KindUnrecognized:
		return []protocol.Message{protocol.NewError(CodeUnknownMessage, "unrecognized message kind: "+msg.RawKind)}
	default:
		return []protocol.Message{protocol.NewError(CodeUnknownMessage, "unexpected message kind: "+string(msg.Kind))}
	}
}

// handleHandshake completes the handshake: records the client version,
// resolves permissions, transitions to Established, and replies with the
// acknowledgement.
func (g *Gateway) handleHandshake(ctx context.Context, s *session.Session, state *State, hs *protocol.Handshake) []protocol.Message {
	perms, err := g.resolvePermissions(ctx, s)
	if err != nil {
		g.log.Error("permission resolution failed",
			logger.Field{Key: "conn", Value: s.ConnectionID},
			logger.Field{Key: "error", Value: err})
		return []protocol.Message{protocol.NewError(CodeInternalError, "could not resolve permissions")}
	}

	s.ClientVersion = hs.ClientVersion
	for _, name := range permissionNames(perms) {
		s.Permissions.Add(name)
	}
	*state = StateEstablished

	g.log.Info("session established",
		logger.Field{Key: "conn", Value: s.ConnectionID},
		logger.Field{Key: "numeric_id", Value: s.NumericID},
		logger.Field{Key: "client_version", Value: s.ClientVersion})

	if g.established != nil {
		g.established.SessionEstablished(s, s.Welcome())
	}

	return []protocol.Message{protocol.NewHandshakeAck(s.ConnectionID, g.serverVersion)}
}

// handleJoin subscribes the session to a channel after checking that it
// exists, is joinable, and the session may listen.
func (g *Gateway) handleJoin(ctx context.Context, s *session.Session, channelID string) []protocol.Message {
	ch, ok := g.channels.Get(channelID)
	if !ok {
		return []protocol.Message{protocol.NewError(CodeUnknownChannel, "no such channel: "+channelID)}
	}
	if ch.Type == channel.TypeCategory {
		return []protocol.Message{protocol.NewError(CodeInvalidChannel, "cannot join a category")}
	}

	perms, err := g.resolvePermissions(ctx, s)
	if err != nil {
		g.log.Error("permission resolution failed",
			logger.Field{Key: "conn", Value: s.ConnectionID},
			logger.Field{Key: "error", Value: err})
		return []protocol.Message{protocol.NewError(CodeInternalError, "could not resolve permissions")}
	}
	if !perms.Has(channel.PermListen) {
		return []protocol.Message{protocol.NewError(CodePermissionDenied, "missing listen permission")}
	}

	s.SubscribedChannels.Add(channelID)
	g.log.Debug("channel joined",
		logger.Field{Key: "conn", Value: s.ConnectionID},
		logger.Field{Key: "channel", Value: channelID})
	return nil
}

// resolvePermissions returns the session's permission set through the cache.
func (g *Gateway) resolvePermissions(ctx context.Context, s *session.Session) (channel.PermissionSet, error) {
	return g.perms.GetOrFetch(ctx, s.ConnectionID, g.permTTL, func(ctx context.Context) (channel.PermissionSet, error) {
		return g.fetchPerms(ctx, s)
	})
}

// InvalidatePermissions drops a session's cached permission set so the next
// operation re-resolves it, e.g. after a role change.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - s: The session whose cache entry to drop
//
// Returns:
//   - An error if the cache backend fails
func (g *Gateway) InvalidatePermissions(ctx context.Context, s *session.Session) error {
	return g.perms.Delete(ctx, s.ConnectionID)
}

// permissionNames lists the snake_case names of the bits in perms, used to
// mirror the resolved set into the session record.
func permissionNames(perms channel.PermissionSet) []string {
	all := []struct {
		name string
		bit  channel.PermissionSet
	}{
		{"connect", channel.PermConnect},
		{"speak", channel.PermSpeak},
		{"listen", channel.PermListen},
		{"move_users", channel.PermMoveUsers},
		{"mute_users", channel.PermMuteUsers},
		{"kick_users", channel.PermKickUsers},
		{"ban_users", channel.PermBanUsers},
		{"manage_channels", channel.PermManageChannels},
		{"manage_roles", channel.PermManageRoles},
		{"administrator", channel.PermAdministrator},
	}

	var names []string
	for _, p := range all {
		if perms&p.bit != 0 {
			names = append(names, p.name)
		}
	}
	return names
}
