package storage

import (
	"database/sql"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"

	"github.com/alvmarrod/traffic-weaver/internal/graph"
)

// Storage handles all database operations
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new Storage instance, opening/creating the DB and initializing schema
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	storage := &Storage{db: db}

	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize schema")
	}

	return storage, nil
}

// initSchema creates tables and indices if they don't exist.
// Timestamps are unix nanoseconds, 0 for unknown.
func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		flushed_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS nodes (
		session_id TEXT NOT NULL,
		hostname TEXT NOT NULL,
		node_type TEXT NOT NULL,
		PRIMARY KEY (session_id, hostname),
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS requests (
		request_id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		hostname TEXT NOT NULL,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		request_type TEXT NOT NULL,
		ts INTEGER NOT NULL,
		FOREIGN KEY (session_id, hostname) REFERENCES nodes(session_id, hostname) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS edges (
		session_id TEXT NOT NULL,
		edge_id INTEGER NOT NULL,
		from_host TEXT NOT NULL,
		to_host TEXT NOT NULL,
		edge_type TEXT NOT NULL,
		PRIMARY KEY (session_id, edge_id),
		UNIQUE (session_id, from_host, to_host),
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS links (
		link_id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		edge_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		from_url TEXT NOT NULL,
		to_url TEXT NOT NULL,
		ts INTEGER NOT NULL,
		FOREIGN KEY (session_id, edge_id) REFERENCES edges(session_id, edge_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS clusters (
		session_id TEXT NOT NULL,
		cluster_id TEXT NOT NULL,
		hostname TEXT NOT NULL,
		PRIMARY KEY (session_id, hostname),
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_requests_node ON requests(session_id, hostname);
	CREATE INDEX IF NOT EXISTS idx_links_edge ON links(session_id, edge_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateSession registers a new session and returns its id
func (s *Storage) CreateSession() (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(`INSERT INTO sessions (session_id, started_at) VALUES (?, ?)`,
		id, toNanos(time.Now()))
	if err != nil {
		return "", errors.Wrap(err, "failed to create session")
	}
	return id, nil
}

// Flush writes the state of g as the content of sessionID in one
// transaction, replacing whatever the session held before.
// Only direct edges are stored; aggregates are derived from clusters.
func (s *Storage) Flush(sessionID string, g *graph.Graph) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.Exec(`UPDATE sessions SET flushed_at = ? WHERE session_id = ?`, toNanos(time.Now()), sessionID)
	if err != nil {
		return errors.Wrap(err, "failed to update session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(graph.ErrPrecondition, "session %q does not exist", sessionID)
	}

	// Children first so the flush works without cascading deletes
	for _, table := range []string{"links", "requests", "clusters", "edges", "nodes"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE session_id = ?`, sessionID); err != nil {
			return errors.Wrapf(err, "failed to clear %s", table)
		}
	}

	for _, node := range g.Nodes() {
		if _, err := tx.Exec(`INSERT INTO nodes (session_id, hostname, node_type) VALUES (?, ?, ?)`,
			sessionID, node.Hostname(), string(node.Type())); err != nil {
			return errors.Wrapf(err, "failed to insert node %s", node.Hostname())
		}
		for _, req := range node.Requests() {
			if _, err := tx.Exec(`
				INSERT INTO requests (session_id, hostname, method, url, request_type, ts)
				VALUES (?, ?, ?, ?, ?, ?)
			`, sessionID, node.Hostname(), req.Method, req.URL, string(req.Type), toNanos(req.Timestamp)); err != nil {
				return errors.Wrapf(err, "failed to insert request %s", req.URL)
			}
		}
	}

	for _, edge := range g.DirectEdges() {
		if _, err := tx.Exec(`
			INSERT INTO edges (session_id, edge_id, from_host, to_host, edge_type)
			VALUES (?, ?, ?, ?, ?)
		`, sessionID, int(edge.ID()), edge.From().ID(), edge.To().ID(), string(edge.Type())); err != nil {
			return errors.Wrapf(err, "failed to insert edge %d", edge.ID())
		}
		for _, link := range edge.Links() {
			if _, err := tx.Exec(`
				INSERT INTO links (session_id, edge_id, kind, from_url, to_url, ts)
				VALUES (?, ?, ?, ?, ?, ?)
			`, sessionID, int(edge.ID()), string(link.Kind), link.From, link.To, toNanos(link.Timestamp)); err != nil {
				return errors.Wrapf(err, "failed to insert link on edge %d", edge.ID())
			}
		}
	}

	for _, cluster := range g.Clusters() {
		for _, hostname := range cluster.Hostnames() {
			if _, err := tx.Exec(`INSERT INTO clusters (session_id, cluster_id, hostname) VALUES (?, ?, ?)`,
				sessionID, cluster.ID(), hostname); err != nil {
				return errors.Wrapf(err, "failed to insert member %s of cluster %s", hostname, cluster.ID())
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit flush")
	}
	return nil
}

// ListSessions returns every session, most recent first
func (s *Storage) ListSessions() ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT s.session_id, s.started_at, s.flushed_at,
			(SELECT COUNT(*) FROM nodes n WHERE n.session_id = s.session_id),
			(SELECT COUNT(*) FROM edges e WHERE e.session_id = s.session_id),
			(SELECT COUNT(DISTINCT c.cluster_id) FROM clusters c WHERE c.session_id = s.session_id)
		FROM sessions s
		ORDER BY s.started_at DESC, s.session_id ASC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var started, flushed int64
		if err := rows.Scan(&sess.SessionID, &started, &flushed, &sess.Nodes, &sess.Edges, &sess.Clusters); err != nil {
			return nil, errors.Wrap(err, "failed to scan session")
		}
		sess.StartedAt = fromNanos(started)
		sess.FlushedAt = fromNanos(flushed)
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating sessions")
	}
	return sessions, nil
}

// LoadSession reads a session back, returns nil if not found
func (s *Storage) LoadSession(sessionID string) (*SessionData, error) {
	var data SessionData
	var started, flushed int64
	err := s.db.QueryRow(`SELECT session_id, started_at, flushed_at FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&data.Session.SessionID, &started, &flushed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get session")
	}
	data.Session.StartedAt = fromNanos(started)
	data.Session.FlushedAt = fromNanos(flushed)

	if data.Nodes, err = s.loadNodes(sessionID); err != nil {
		return nil, err
	}
	if data.Edges, err = s.loadEdges(sessionID); err != nil {
		return nil, err
	}
	if data.Clusters, err = s.loadClusters(sessionID); err != nil {
		return nil, err
	}

	data.Session.Nodes = len(data.Nodes)
	data.Session.Edges = len(data.Edges)
	data.Session.Clusters = len(data.Clusters)
	return &data, nil
}

func (s *Storage) loadNodes(sessionID string) ([]NodeRecord, error) {
	rows, err := s.db.Query(`
		SELECT hostname, node_type FROM nodes WHERE session_id = ? ORDER BY hostname ASC
	`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load nodes")
	}
	defer rows.Close()

	var nodes []NodeRecord
	index := make(map[string]int)
	for rows.Next() {
		n := NodeRecord{Requests: []graph.Request{}}
		var nodeType string
		if err := rows.Scan(&n.Hostname, &nodeType); err != nil {
			return nil, errors.Wrap(err, "failed to scan node")
		}
		n.Type = graph.NodeType(nodeType)
		index[n.Hostname] = len(nodes)
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating nodes")
	}

	reqRows, err := s.db.Query(`
		SELECT hostname, method, url, request_type, ts
		FROM requests WHERE session_id = ? ORDER BY request_id ASC
	`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load requests")
	}
	defer reqRows.Close()

	for reqRows.Next() {
		var hostname, reqType string
		var ts int64
		var req graph.Request
		if err := reqRows.Scan(&hostname, &req.Method, &req.URL, &reqType, &ts); err != nil {
			return nil, errors.Wrap(err, "failed to scan request")
		}
		req.Type = graph.RequestType(reqType)
		req.Timestamp = fromNanos(ts)
		i := index[hostname]
		nodes[i].Requests = append(nodes[i].Requests, req)
	}
	if err := reqRows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating requests")
	}
	return nodes, nil
}

func (s *Storage) loadEdges(sessionID string) ([]EdgeRecord, error) {
	rows, err := s.db.Query(`
		SELECT edge_id, from_host, to_host, edge_type
		FROM edges WHERE session_id = ? ORDER BY edge_id ASC
	`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load edges")
	}
	defer rows.Close()

	var edges []EdgeRecord
	index := make(map[int]int)
	for rows.Next() {
		e := EdgeRecord{Links: []graph.Link{}}
		var edgeType string
		if err := rows.Scan(&e.EdgeID, &e.From, &e.To, &edgeType); err != nil {
			return nil, errors.Wrap(err, "failed to scan edge")
		}
		e.Type = graph.EdgeType(edgeType)
		index[e.EdgeID] = len(edges)
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating edges")
	}

	linkRows, err := s.db.Query(`
		SELECT edge_id, kind, from_url, to_url, ts
		FROM links WHERE session_id = ? ORDER BY link_id ASC
	`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load links")
	}
	defer linkRows.Close()

	for linkRows.Next() {
		var edgeID int
		var kind string
		var ts int64
		var link graph.Link
		if err := linkRows.Scan(&edgeID, &kind, &link.From, &link.To, &ts); err != nil {
			return nil, errors.Wrap(err, "failed to scan link")
		}
		link.Kind = graph.LinkKind(kind)
		link.Timestamp = fromNanos(ts)
		i := index[edgeID]
		edges[i].Links = append(edges[i].Links, link)
	}
	if err := linkRows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating links")
	}
	return edges, nil
}

func (s *Storage) loadClusters(sessionID string) ([]ClusterRecord, error) {
	rows, err := s.db.Query(`
		SELECT cluster_id, hostname FROM clusters WHERE session_id = ? ORDER BY cluster_id ASC, hostname ASC
	`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load clusters")
	}
	defer rows.Close()

	var clusters []ClusterRecord
	for rows.Next() {
		var clusterID, hostname string
		if err := rows.Scan(&clusterID, &hostname); err != nil {
			return nil, errors.Wrap(err, "failed to scan cluster member")
		}
		if n := len(clusters); n == 0 || clusters[n-1].ClusterID != clusterID {
			clusters = append(clusters, ClusterRecord{ClusterID: clusterID})
		}
		last := &clusters[len(clusters)-1]
		last.Members = append(last.Members, hostname)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating clusters")
	}
	return clusters, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// Rebuild replays stored session data into g, which should be empty.
// Observers registered on g see the session unfold again. Observer failures
// leave the replay running and are returned combined once it completes.
func Rebuild(data *SessionData, g *graph.Graph) error {
	var observed error
	tolerate := func(err error) error {
		if err != nil && graph.IsObserver(err) {
			observed = multierr.Append(observed, err)
			return nil
		}
		return err
	}
	abort := func(err error) error {
		return multierr.Append(err, observed)
	}

	for _, n := range data.Nodes {
		if _, err := g.CreateNode(n.Hostname); tolerate(err) != nil {
			return abort(err)
		}
		for _, req := range n.Requests {
			if _, err := g.AddRequestToNode(req); tolerate(err) != nil {
				return abort(errors.Wrapf(err, "request %s", req.URL))
			}
		}
	}

	edges := make([]EdgeRecord, len(data.Edges))
	copy(edges, data.Edges)
	sort.Slice(edges, func(i, j int) bool { return edges[i].EdgeID < edges[j].EdgeID })

	for _, e := range edges {
		if _, err := g.CreateEdge(e.From, e.To, e.Type); tolerate(err) != nil {
			return abort(err)
		}
		for _, link := range e.Links {
			if err := replayLink(g, link); tolerate(err) != nil {
				return abort(errors.Wrapf(err, "link on edge %s -> %s", e.From, e.To))
			}
		}
	}

	for _, c := range data.Clusters {
		members := g.FilterNodes(func(n *graph.Node) bool {
			for _, m := range c.Members {
				if n.Hostname() == m {
					return true
				}
			}
			return false
		})
		if _, err := g.AddCluster(c.ClusterID, members); err != nil {
			return abort(err)
		}
	}
	return observed
}

func replayLink(g *graph.Graph, link graph.Link) error {
	var err error
	switch link.Kind {
	case graph.LinkRedirect:
		_, err = g.AddRedirectToEdge(graph.Redirect{
			InitialURL: link.From,
			FinalURL:   link.To,
			Type:       graph.RequestRoot,
			Timestamp:  link.Timestamp,
		})
	case graph.LinkReferral:
		_, err = g.AddReferralToEdge(link.From, graph.Request{
			Method: "GET", URL: link.To, Timestamp: link.Timestamp, Type: graph.RequestRoot,
		})
	default:
		_, err = g.AddRequestToEdge(link.From, graph.Request{
			Method: "GET", URL: link.To, Timestamp: link.Timestamp, Type: graph.RequestEmbedded,
		})
	}
	return err
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
