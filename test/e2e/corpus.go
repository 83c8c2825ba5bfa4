// Package e2e provides end-to-end tests over a multi-tenant chunk corpus.
package e2e

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kensaku/internal/models"
)

// CorpusChunk is one pre-extracted chunk owned by a tenant.
type CorpusChunk struct {
	Tenant     string
	Text       string
	Page       int
	Confidence float64
}

// QueryTestCase is a query whose results for Tenant must include ExpectedText.
type QueryTestCase struct {
	Tenant       string
	Query        string
	ExpectedText string
	Description  string
}

// Corpus holds chunks and query test cases for E2E tests.
type Corpus struct {
	Tenants      []string
	Chunks       []CorpusChunk
	TestCases    []QueryTestCase
	TotalChunks  int
	TotalQueries int
}

var topics = []struct {
	phrase string
	text   string
}{
	{"Python programming", "Python is a high-level programming language. Python programming language is used for web development and data science."},
	{"Kubernetes container", "Kubernetes is an open-source container orchestration platform. Kubernetes container orchestration automates deployment and scaling."},
	{"React hooks", "React is a JavaScript library. React hooks and components enable building user interfaces."},
	{"golang concurrency", "Go is a statically typed language. Go golang concurrency is achieved with goroutines and channels."},
	{"PostgreSQL relational", "PostgreSQL is an advanced relational database. PostgreSQL relational database supports JSON and full-text search."},
	{"Docker container images", "Docker enables building and shipping applications. Docker container images are portable across environments."},
	{"machine learning algorithms", "Machine learning is a subset of AI. Machine learning algorithms learn patterns from data."},
	{"neural network", "Neural networks are inspired by the brain. Neural network deep learning powers modern AI."},
	{"GraphQL query", "GraphQL is a query language for APIs. GraphQL query language lets clients request exactly what they need."},
	{"TypeScript type", "TypeScript adds static types to JavaScript. TypeScript type system catches errors at compile time."},
	{"Redis in-memory", "Redis is an in-memory data store. Redis in-memory cache is used for sessions and caching."},
	{"AWS Lambda", "AWS Lambda runs code without servers. AWS Lambda serverless scales automatically."},
	{"Terraform infrastructure", "Terraform manages cloud infrastructure. Terraform infrastructure as code is declarative."},
	{"Prometheus monitoring", "Prometheus is a monitoring system. Prometheus monitoring metrics are time-series based."},
	{"gRPC remote", "gRPC is a high-performance RPC framework. gRPC remote procedure calls use HTTP/2 and protobuf."},
	{"Git version", "Git is a distributed version control system. Git version control tracks changes in source code."},
	{"Apache Kafka", "Apache Kafka is a distributed event stream platform. Apache Kafka streaming handles high throughput."},
	{"Nginx reverse", "Nginx is a web server and reverse proxy. Nginx reverse proxy balances load and serves static files."},
	{"functional programming", "Functional programming treats computation as functions. Functional programming paradigm avoids mutable state."},
	{"database indexing", "Indexes speed up queries. Database indexing performance is critical for large tables."},
	{"load balancing", "Load balancers distribute traffic. Load balancing high availability prevents single points of failure."},
	{"event sourcing", "Event sourcing stores state as events. Event sourcing CQRS separates read and write models."},
	{"Agile Scrum", "Agile is an iterative approach. Agile Scrum sprint typically lasts two weeks."},
	{"dependency injection", "DI provides dependencies from outside. Dependency injection DI improves testability."},
	{"semantic search", "Semantic search uses meaning not just keywords. Semantic search embeddings capture context."},
	{"vector database", "Vector DBs store embeddings. Vector database similarity uses cosine or dot product."},
	{"RAG retrieval", "RAG combines retrieval and generation. RAG retrieval augmented grounds LLMs in documents."},
	{"prompt engineering", "Prompts guide model behavior. Prompt engineering few-shot uses examples in the prompt."},
	{"rate limiting", "Rate limiting protects APIs. Rate limiting throttling can be per-user or global."},
	{"circuit breaker", "Circuit breaker stops cascading failures. Circuit breaker resilience pattern fails fast."},
	{"password hashing", "Passwords must be hashed. Password hashing bcrypt is resistant to rainbow tables."},
	{"disaster recovery", "DR plans restore after outages. Disaster recovery DR involves failover and runbooks."},
	{"graph database", "Graph DBs store nodes and edges. Graph database Neo4j is used for relationships."},
	{"zero trust", "Zero trust assumes breach. Zero trust security verifies every request."},
	{"incident response", "Incidents need a clear process. Incident response runbook defines steps."},
	{"chaos engineering", "Chaos engineering tests resilience. Chaos engineering resilience uses fault injection."},
	{"canary release", "Canary rolls out to a subset. Canary release gradual reduces blast radius."},
	{"memory leak", "Memory leaks grow over time. Memory leak debugging uses heap dumps."},
	{"graceful shutdown", "Graceful shutdown drains connections. Graceful shutdown signal handles SIGTERM."},
	{"service mesh", "Service mesh manages service-to-service traffic. Service mesh Istio provides mTLS and observability."},
}

// BuildCorpus deals the topics round-robin across tenants, one chunk per
// topic, and builds one query per topic against its owning tenant.
func BuildCorpus(tenants ...string) *Corpus {
	if len(tenants) == 0 {
		tenants = []string{"acme", "globex"}
	}
	chunks := buildChunks(tenants)
	cases := buildQueryTestCases(chunks)
	return &Corpus{
		Tenants:      tenants,
		Chunks:       chunks,
		TestCases:    cases,
		TotalChunks:  len(chunks),
		TotalQueries: len(cases),
	}
}

func buildChunks(tenants []string) []CorpusChunk {
	out := make([]CorpusChunk, 0, len(topics))
	for i, t := range topics {
		out = append(out, CorpusChunk{
			Tenant:     tenants[i%len(tenants)],
			Text:       t.text,
			Page:       i/len(tenants) + 1,
			Confidence: float64(60 + (i*7)%40),
		})
	}
	return out
}

func buildQueryTestCases(chunks []CorpusChunk) []QueryTestCase {
	var cases []QueryTestCase
	for i, c := range chunks {
		phrase := topics[i].phrase
		if !containsPhrase(c, phrase) {
			continue
		}
		cases = append(cases, QueryTestCase{
			Tenant:       c.Tenant,
			Query:        phrase,
			ExpectedText: c.Text,
			Description:  fmt.Sprintf("%s/%s", c.Tenant, phrase),
		})
	}
	return cases
}

func containsPhrase(c CorpusChunk, phrase string) bool {
	return strings.Contains(strings.ToLower(c.Text), strings.ToLower(phrase))
}

// ChunksByTenant converts the corpus to models.TextChunk grouped by tenant.
func (c *Corpus) ChunksByTenant() map[string][]models.TextChunk {
	out := make(map[string][]models.TextChunk, len(c.Tenants))
	for _, ch := range c.Chunks {
		confidence := ch.Confidence
		out[ch.Tenant] = append(out[ch.Tenant], models.TextChunk{
			Text:               ch.Text,
			Page:               ch.Page,
			UpstreamConfidence: &confidence,
			SourceMethod:       "e2e",
		})
	}
	return out
}

// Owner returns the tenant holding text, or "".
func (c *Corpus) Owner(text string) string {
	for _, ch := range c.Chunks {
		if ch.Text == text {
			return ch.Tenant
		}
	}
	return ""
}
