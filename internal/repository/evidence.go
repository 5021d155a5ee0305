package repository

import (
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/pkg/hash"
)

var evidenceHasher = hash.NewContentHasher(hash.SHA256)

// EvidenceDigest is the content address of pkg. ID and CreatedAt are excluded,
// so the same findings always map to the same id.
func EvidenceDigest(pkg *models.EvidencePackage) (string, error) {
	content := *pkg
	content.ID = ""
	content.CreatedAt = time.Time{}
	return evidenceHasher.CalculateJSON(content)
}
