package echo

// HTMLPage is the browser version of the connectivity check. It places one
// call through /signal with the microphone (or Chrome's fake device) and
// shows the result in #status. Query parameters token and edge are passed
// through to the signaling URL; autostart=1 starts the check on load.
const HTMLPage = `<!DOCTYPE html>
<html>
<head>
    <title>rtcdiag echo</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            max-width: 800px;
            margin: 50px auto;
            padding: 20px;
            background: #f5f5f5;
        }
        .container {
            background: white;
            padding: 30px;
            border-radius: 8px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
        }
        h1 { color: #333; margin-bottom: 10px; }
        .subtitle { color: #666; margin-bottom: 30px; }
        button {
            background: #4285f4;
            color: white;
            border: none;
            padding: 12px 24px;
            border-radius: 4px;
            cursor: pointer;
            font-size: 16px;
            margin-right: 10px;
        }
        button:disabled { background: #ccc; cursor: not-allowed; }
        button.stop { background: #ea4335; }
        #status {
            margin: 20px 0;
            padding: 15px;
            border-radius: 4px;
            font-weight: 500;
        }
        .status-waiting { background: #fff3cd; color: #856404; }
        .status-connecting { background: #cce5ff; color: #004085; }
        .status-connected { background: #d4edda; color: #155724; }
        .status-error { background: #f8d7da; color: #721c24; }
        .status-closed { background: #e2e3e5; color: #383d41; }
        #details { font-family: 'SF Mono', Consolas, monospace; color: #555; }
    </style>
</head>
<body>
    <div class="container">
        <h1>rtcdiag echo</h1>
        <p class="subtitle">Places a test call and plays your audio back</p>

        <div>
            <button id="startBtn" onclick="startCall()">Start Test</button>
            <button id="stopBtn" onclick="stopCall()" class="stop" disabled>Hang Up</button>
        </div>

        <div id="status" class="status-waiting" data-state="waiting">waiting</div>
        <div id="details"></div>
        <audio id="remote" autoplay></audio>
    </div>

    <script>
        const params = new URLSearchParams(location.search);
        let pc = null;
        let ws = null;
        let localStream = null;
        let callId = '';

        function setStatus(state, detail) {
            const status = document.getElementById('status');
            status.textContent = state;
            status.dataset.state = state;
            status.className = 'status-' + state;
            document.getElementById('details').textContent = detail || '';
        }

        function signalURL() {
            const u = new URL('/signal', location.href);
            u.protocol = location.protocol === 'https:' ? 'wss:' : 'ws:';
            for (const key of ['token', 'edge']) {
                if (params.has(key)) {
                    u.searchParams.set(key, params.get(key));
                }
            }
            return u.toString();
        }

        function gathered(pc) {
            return new Promise(resolve => {
                if (pc.iceGatheringState === 'complete') {
                    resolve();
                    return;
                }
                pc.addEventListener('icegatheringstatechange', () => {
                    if (pc.iceGatheringState === 'complete') {
                        resolve();
                    }
                });
            });
        }

        async function startCall() {
            document.getElementById('startBtn').disabled = true;
            document.getElementById('stopBtn').disabled = false;

            try {
                setStatus('connecting', 'requesting microphone');
                localStream = await navigator.mediaDevices.getUserMedia({ audio: true, video: false });

                pc = new RTCPeerConnection({ iceServers: [] });
                localStream.getTracks().forEach(track => pc.addTrack(track, localStream));
                pc.ontrack = event => {
                    document.getElementById('remote').srcObject = event.streams[0] || new MediaStream([event.track]);
                };
                pc.onconnectionstatechange = () => {
                    if (pc === null) {
                        return;
                    }
                    if (pc.connectionState === 'connected') {
                        setStatus('connected', 'call ' + callId);
                    } else if (pc.connectionState === 'failed') {
                        setStatus('error', 'ice failed');
                    }
                };

                await pc.setLocalDescription(await pc.createOffer());
                await gathered(pc);

                setStatus('connecting', 'signaling');
                ws = new WebSocket(signalURL());
                ws.onmessage = async event => {
                    const msg = JSON.parse(event.data);
                    if (msg.type === 'answer') {
                        callId = msg.callId;
                        await pc.setRemoteDescription(msg.sdp);
                    } else if (msg.type === 'error') {
                        setStatus('error', msg.error);
                    } else if (msg.type === 'hangup') {
                        stopCall();
                    }
                };
                ws.onerror = () => setStatus('error', 'signaling failed');
                ws.onopen = () => {
                    ws.send(JSON.stringify({ type: 'offer', sdp: pc.localDescription.toJSON() }));
                };
            } catch (err) {
                setStatus('error', err.message);
                stopCall();
            }
        }

        function stopCall() {
            if (ws) {
                if (ws.readyState === WebSocket.OPEN) {
                    ws.send(JSON.stringify({ type: 'hangup', callId: callId }));
                }
                ws.close();
                ws = null;
            }
            if (pc) {
                pc.close();
                pc = null;
            }
            if (localStream) {
                localStream.getTracks().forEach(track => track.stop());
                localStream = null;
            }
            document.getElementById('startBtn').disabled = false;
            document.getElementById('stopBtn').disabled = true;
            if (document.getElementById('status').dataset.state !== 'error') {
                setStatus('closed', callId ? 'call ' + callId + ' ended' : '');
            }
        }

        if (params.get('autostart') === '1') {
            startCall();
        }
    </script>
</body>
</html>`
