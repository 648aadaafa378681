package api

// docsHTML is the API reference page. The status strip polls /health so a
// developer can watch the duplicate verdict flip while trying routes.
const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Tab Sentinel API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    body { margin: 0; height: 100vh; display: flex; flex-direction: column; background: #0d1117; }
    .strip { display: flex; gap: 12px; align-items: center; padding: 6px 16px;
      border-bottom: 1px solid #30363d; font: 12px -apple-system, 'Segoe UI', sans-serif; color: #c9d1d9; }
    .strip a { color: #58a6ff; text-decoration: none; }
    .badge { padding: 2px 8px; border-radius: 10px; background: #238636; }
    .badge.dup { background: #da3633; }
    elements-api { flex: 1; min-height: 0; }
  </style>
</head>
<body>
  <div class="strip">
    <strong>Tab Sentinel</strong>
    <span id="tab">tab: ?</span>
    <span id="verdict" class="badge">checking</span>
    <span style="flex: 1"></span>
    <a href="/api/v1/log/stream">Live event log (SSE)</a>
    <a href="/api/v1/log/export">Download event log</a>
    <a href="/health">Health</a>
  </div>
  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
  <script>
    async function refresh() {
      try {
        const h = await (await fetch('/health')).json();
        document.getElementById('tab').textContent = 'tab: ' + h.tabId;
        const v = document.getElementById('verdict');
        v.textContent = h.duplicate ? 'duplicate' : 'original';
        v.className = h.duplicate ? 'badge dup' : 'badge';
      } catch (e) {}
    }
    refresh();
    setInterval(refresh, 5000);
  </script>
</body>
</html>`
