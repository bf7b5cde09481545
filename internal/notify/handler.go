package notify

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// Handler returns an HTTP handler that upgrades connections and runs them as
// hook listeners.
func Handler(bus *Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // listeners connect from the household LAN
		})
		if err != nil {
			slog.Error("hook listener accept", "error", err)
			return
		}

		client := NewClient(bus, conn)
		client.Run(r.Context())
	}
}
