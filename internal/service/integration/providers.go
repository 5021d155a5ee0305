package integration

import (
	"context"
	"fmt"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/rs/zerolog"
)

// PlagiarismClient calls an external text-matching service.
type PlagiarismClient struct {
	client *providerClient
}

func NewPlagiarismClient(cfg ClientConfig, logger zerolog.Logger) *PlagiarismClient {
	return &PlagiarismClient{client: newProviderClient("plagiarism", cfg, logger)}
}

type matchRequest struct {
	Text string `json:"text"`
}

type matchResponse struct {
	Matches []models.ExternalMatch `json:"matches"`
}

func (c *PlagiarismClient) Match(ctx context.Context, text string) ([]models.ExternalMatch, error) {
	var resp matchResponse
	if err := c.client.postJSON(ctx, "/match", matchRequest{Text: text}, &resp); err != nil {
		return nil, err
	}

	c.client.logger.Debug().Int("matches", len(resp.Matches)).Msg("Got plagiarism matches")
	return resp.Matches, nil
}

// AuthorshipClient calls an external AI-authorship classifier.
type AuthorshipClient struct {
	client *providerClient
}

func NewAuthorshipClient(cfg ClientConfig, logger zerolog.Logger) *AuthorshipClient {
	return &AuthorshipClient{client: newProviderClient("authorship", cfg, logger)}
}

func (c *AuthorshipClient) Classify(ctx context.Context, text string) (models.AuthorshipClassification, error) {
	var resp models.AuthorshipClassification
	if err := c.client.postJSON(ctx, "/classify", matchRequest{Text: text}, &resp); err != nil {
		return models.AuthorshipClassification{}, err
	}
	return resp, nil
}

// EmbeddingClient calls an external embedding model.
type EmbeddingClient struct {
	client *providerClient
}

func NewEmbeddingClient(cfg ClientConfig, logger zerolog.Logger) *EmbeddingClient {
	return &EmbeddingClient{client: newProviderClient("embedding", cfg, logger)}
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func (c *EmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp embedResponse
	if err := c.client.postJSON(ctx, "/embed", embedRequest{Texts: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: embedding: got %d vectors for %d texts", models.ErrProviderUnavailable, len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}
