package websocket

import (
	"context"
	"regexp"

	"tomoboard-server/collab"
	"tomoboard-server/config"
	"tomoboard-server/core"
	"tomoboard-server/handlers/auth"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

var localhostOrigin = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)

// socketConn adapts a Socket.IO socket to collab.Conn.
type socketConn struct {
	socket *socketio.Socket
}

func (c *socketConn) ID() string { return string(c.socket.Id()) }

func (c *socketConn) Emit(event string, payload any) error {
	return c.socket.Emit(event, payload)
}

func (c *socketConn) EmitVolatile(event string, payload any) error {
	return c.socket.Volatile().Emit(event, payload)
}

// UserRecorder keeps the user directory in step with verified connections.
type UserRecorder interface {
	Record(ctx context.Context, profile core.UserProfile) error
}

func SetupSocketIO(hub *collab.Hub, verifier *auth.Verifier, users UserRecorder, cfg *config.Config) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(cfg.MaxHTTPBufferSize)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)

	origins := []any{localhostOrigin}
	for _, origin := range cfg.CORSOrigins {
		origins = append(origins, origin)
	}
	opts.SetCors(&types.Cors{
		Origin:      origins,
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	srv.Use(func(socket *socketio.Socket, next func(*socketio.ExtendedError)) {
		if err := checkHandshake(verifier, socket.Handshake()); err != nil {
			logrus.WithField("conn_id", socket.Id()).WithError(err).Info("Rejected socket handshake")
			next(err)
			return
		}
		next(nil)
	})

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		conn := &socketConn{socket: socket}
		if _, err := connect(hub, verifier, users, socket.Handshake(), conn); err != nil {
			socket.Disconnect(true)
			return
		}

		for _, event := range collab.ClientEvents {
			event := event
			//nolint:errcheck // Socket.IO event handlers do not return useful errors
			socket.On(event, func(datas ...any) {
				handleEvent(hub, conn.ID(), event, datas)
			})
		}

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("disconnect", func(...any) {
			hub.Disconnect(conn.ID())
		})
	})

	return srv
}

// handleEvent forwards one client event to the hub and answers its acknowledgement, if any.
func handleEvent(hub *collab.Hub, connID, event string, datas []any) {
	ack, args := extractAck(datas)

	var arg any
	if len(args) > 0 {
		arg = args[0]
	}

	err := hub.Dispatch(context.Background(), connID, event, arg)
	if ack != nil {
		ack(ackPayload(err))
	}
}

// checkHandshake refuses a handshake without a valid token, before any session exists.
func checkHandshake(verifier *auth.Verifier, hs *socketio.Handshake) *socketio.ExtendedError {
	if _, err := authenticate(verifier, hs); err != nil {
		return socketio.NewExtendedError("Authentication required", map[string]any{
			"code": string(collab.CodeAuthenticationRequired),
		})
	}
	return nil
}

// connect verifies the handshake again and registers the session with the hub. Nothing is
// registered when the token is refused.
func connect(hub *collab.Hub, verifier *auth.Verifier, users UserRecorder, hs *socketio.Handshake, conn collab.Conn) (*collab.Session, error) {
	claims, err := authenticate(verifier, hs)
	if err != nil {
		return nil, err
	}

	profile := claims.Profile()
	if users != nil {
		if err := users.Record(context.Background(), profile); err != nil {
			logrus.WithField("user_id", profile.ID).WithError(err).Warn("Failed to record user")
		}
	}
	return hub.Connect(conn, profile), nil
}

func authenticate(verifier *auth.Verifier, hs *socketio.Handshake) (*auth.AppClaims, error) {
	if hs == nil {
		return nil, auth.ErrMissingToken
	}
	return verifier.Parse(tokenFromHandshake(hs.Auth, hs.Query, hs.Headers))
}
