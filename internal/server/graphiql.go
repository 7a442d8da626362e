package server

// graphiqlPage is the in-browser IDE served on GET /graphql when GraphiQL
// is enabled. Assets load from the esm.sh CDN; the endpoint is derived from
// the page's own URL so the handler works behind any mount path.
var graphiqlPage = []byte(`<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <title>GraphiQL</title>
    <style>
      body { margin: 0; }
      #graphiql { height: 100vh; }
    </style>
    <link rel="stylesheet" href="https://esm.sh/graphiql/dist/style.css" />
  </head>
  <body>
    <div id="graphiql">Loading…</div>
    <script type="module">
      import React from 'https://esm.sh/react@18';
      import ReactDOM from 'https://esm.sh/react-dom@18/client';
      import { GraphiQL } from 'https://esm.sh/graphiql';
      import { createGraphiQLFetcher } from 'https://esm.sh/@graphiql/toolkit';

      const url = window.location.origin + window.location.pathname;
      const subscriptionUrl = url.replace(/^http/, 'ws') + '/ws';
      const fetcher = createGraphiQLFetcher({ url, subscriptionUrl });
      ReactDOM.createRoot(document.getElementById('graphiql')).render(
        React.createElement(GraphiQL, { fetcher })
      );
    </script>
  </body>
</html>
`)
