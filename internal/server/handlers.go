package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// WebSocketHandler upgrades GET requests and hands the connection to the hub.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s.hub, r.RemoteAddr, s.cfg)
	if !s.hub.Register(client) {
		_ = conn.Close()
	}
}

// HealthHandler answers with a plain text liveness message.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "GoChat relay is running!")
}

// StatusHandler reports liveness plus the registry counts as JSON.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.hub.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": stats.Connections,
		"rooms":       stats.Rooms,
	})
}

// StatsHandler returns the connection and room counts.
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.hub.Stats(r.Context())
	if err != nil {
		http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// OnlineUsersHandler lists the users holding at least one connection.
func (s *Server) OnlineUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := s.presence.OnlineUsers(r.Context())
	if err != nil {
		s.log.Error("presence lookup failed", "error", err)
		http.Error(w, "presence unavailable", http.StatusServiceUnavailable)
		return
	}
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// UserPresenceHandler reports whether one user is online.
func (s *Server) UserPresenceHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	online, err := s.presence.IsOnline(r.Context(), userID)
	if err != nil {
		s.log.Error("presence lookup failed", "user", userID, "error", err)
		http.Error(w, "presence unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "online": online})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ConsolePageHandler serves a small page for driving the relay by hand: set
// up a user, join rooms and send raw events.
func (s *Server) ConsolePageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, consolePage); err != nil {
		s.log.Warn("error writing console page", "error", err)
	}
}

const consolePage = `<!DOCTYPE html>
<html>
<head>
    <title>GoChat Relay Console</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
        }
        input[type="text"], select { padding: 5px; margin-right: 10px; }
        textarea { width: 500px; height: 80px; display: block; margin: 5px 0; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:disabled { background-color: #9bb; cursor: default; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>GoChat Relay Console</h1>

    <div id="status" class="status disconnected">Disconnected</div>
    <button id="connectButton" onclick="toggleConnection()">Connect</button>

    <div>
        <input type="text" id="userInput" placeholder="user id">
        <button class="needsConn" onclick="emit('setup', {_id: val('userInput')})" disabled>Setup</button>
        <input type="text" id="roomInput" placeholder="chat id">
        <button class="needsConn" onclick="emit('join chat', val('roomInput'))" disabled>Join</button>
        <button class="needsConn" onclick="emit('leave chat', val('roomInput'))" disabled>Leave</button>
        <button class="needsConn" onclick="emit('typing', val('roomInput'))" disabled>Typing</button>
    </div>

    <div>
        <select id="eventSelect">
            <option>new message</option>
            <option>groupRenamed</option>
            <option>user added</option>
            <option>user removed</option>
            <option>group chat created</option>
            <option>stop typing</option>
        </select>
        <textarea id="payloadInput">{"newMessage": {"sender": {"_id": "u1"}, "content": "hi", "chat": {"_id": "c1", "users": [{"_id": "u1"}, {"_id": "u2"}]}}}</textarea>
        <button class="needsConn" onclick="sendRaw()" disabled>Send</button>
    </div>

    <div id="log"></div>

    <script>
        let ws = null;
        const logDiv = document.getElementById('log');
        const statusDiv = document.getElementById('status');
        const connectButton = document.getElementById('connectButton');

        function val(id) { return document.getElementById(id).value.trim(); }

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.color = color || 'gray';
            line.textContent = text;
            logDiv.appendChild(line);
            logDiv.scrollTop = logDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
            document.querySelectorAll('.needsConn').forEach(b => b.disabled = !connected);
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = () => { addLine('connected'); updateStatus(true); };
            ws.onmessage = (e) => addLine('<- ' + e.data, 'green');
            ws.onclose = () => { addLine('connection closed'); updateStatus(false); ws = null; };
            ws.onerror = () => addLine('connection error', 'red');
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function emit(event, data) {
            if (!ws || ws.readyState !== WebSocket.OPEN) return;
            const frame = JSON.stringify({event: event, data: data});
            ws.send(frame);
            addLine('-> ' + frame, 'blue');
        }

        function sendRaw() {
            try {
                emit(val('eventSelect'), JSON.parse(val('payloadInput')));
            } catch (err) {
                addLine('invalid JSON payload: ' + err, 'red');
            }
        }
    </script>
</body>
</html>`
