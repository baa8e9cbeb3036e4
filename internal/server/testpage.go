package server

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// TestPageHandler serves an HTML page for trying the event protocol by hand.
// Connect as an identity, then send typing or call frames to another one.
func (h *Handlers) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		h.Log.Warn("error writing HTML response", zap.Error(err))
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>taptik WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
        }
        input[type="text"] { width: 160px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>taptik WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="identity" placeholder="your user id">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="peer" placeholder="peer user id">
        <button onclick="send('typing', {receiver: peer()})">Typing</button>
        <button onclick="send('stop-typing', {receiver: peer()})">Stop typing</button>
        <button onclick="send('call-request', {to: peer()})">Call</button>
        <button onclick="send('call-accept', {to: peer()})">Accept</button>
        <button onclick="send('call-reject', {to: peer()})">Reject</button>
        <button onclick="send('call-ended', {to: peer()})">Hang up</button>
    </div>

    <div id="events"></div>

    <script>
        let ws = null;
        const eventsDiv = document.getElementById('events');
        const statusDiv = document.getElementById('status');
        const connectButton = document.getElementById('connectButton');

        function peer() { return document.getElementById('peer').value.trim(); }

        function log(line) {
            const el = document.createElement('div');
            el.textContent = line;
            eventsDiv.appendChild(el);
            eventsDiv.scrollTop = eventsDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const id = document.getElementById('identity').value.trim();
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws' + (id ? '?userId=' + encodeURIComponent(id) : ''));
            ws.onopen = () => { log('connected'); updateStatus(true); };
            ws.onmessage = (event) => log('<- ' + event.data);
            ws.onclose = () => { log('connection closed'); updateStatus(false); ws = null; };
            ws.onerror = () => { log('connection error'); updateStatus(false); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function send(event, data) {
            if (!ws || ws.readyState !== WebSocket.OPEN) { return; }
            const frame = JSON.stringify({event: event, data: data});
            ws.send(frame);
            log('-> ' + frame);
        }
    </script>
</body>
</html>`
