package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"coach-assessment-service/internal/domain"
	"github.com/gofrs/flock"
)

// Build is the offline reshaping step that turns an authored source into a versioned
// artifact: group ids are stamped on gateways and members, exit-rule critical gateways
// are tagged on their questions, questions are reordered by module traversal order
// and fixed per-module ordering, and a content version is assigned when none is set.
// The result is validated with Compile before it is returned.
func Build(src Artifact) (Artifact, error) {
	out := src

	qs := append([]domain.Question(nil), src.Questions...)
	byID := make(map[string]int, len(qs))
	for i := range qs {
		qs[i].ID = strings.TrimSpace(qs[i].ID)
		qs[i].Module = strings.TrimSpace(qs[i].Module)
		byID[qs[i].ID] = i
	}

	out.Groups = make([]domain.QuestionGroup, 0, len(src.Groups))
	for _, g := range src.Groups {
		triggers := make([]string, 0, len(g.TriggerValues))
		for _, t := range g.TriggerValues {
			triggers = append(triggers, strings.ToLower(strings.TrimSpace(t)))
		}
		g.TriggerValues = triggers
		g.MemberQuestionIDs = append([]string(nil), g.MemberQuestionIDs...)
		if i, ok := byID[g.GatewayQuestionID]; ok && qs[i].GroupID == "" {
			qs[i].GroupID = g.ID
		}
		for _, m := range g.MemberQuestionIDs {
			if i, ok := byID[m]; ok && qs[i].GroupID == "" {
				qs[i].GroupID = g.ID
			}
		}
		out.Groups = append(out.Groups, g)
	}

	for _, r := range src.ExitRules {
		for _, id := range r.CriticalGatewayIDs {
			if i, ok := byID[id]; ok {
				qs[i].CriticalGateway = true
			}
		}
	}
	out.Questions = qs

	compiled, err := Compile(withVersion(out, "build"))
	if err != nil {
		return Artifact{}, err
	}

	reordered := make([]domain.Question, 0, len(qs))
	for _, m := range out.Modules {
		for _, id := range compiled.Ordering(m.ID) {
			reordered = append(reordered, qs[byID[id]])
		}
	}
	out.Questions = reordered
	out.Settings = compiled.Settings()

	out.Version = src.Version
	if out.Version == "" {
		v, err := ContentVersion(out)
		if err != nil {
			return Artifact{}, err
		}
		out.Version = v
	}
	if _, err := Compile(out); err != nil {
		return Artifact{}, err
	}
	return out, nil
}

func withVersion(a Artifact, v string) Artifact {
	a.Version = v
	return a
}

// ContentVersion derives a stable version from the artifact content, ignoring its
// current version field.
func ContentVersion(a Artifact) (string, error) {
	a.Version = ""
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("hash catalog: %w", err)
	}
	sum := sha256.Sum256(data)
	return "v-" + hex.EncodeToString(sum[:])[:12], nil
}

// WriteArtifact writes a as indented JSON to path. Writers are serialized with a lock
// file next to the target and readers only ever observe a complete file.
func WriteArtifact(path string, a Artifact) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(dir, ".catalog-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
