package ttc

import (
	"encoding/json"
	"os"

	"github.com/tamrielwatch/ttcwatch/internal/domain"
	"go.uber.org/zap"
)

// ItemIndex maps normalized item names to TTC item ids. Searching with
// an exact ItemID skips TTC's fuzzy name matching; the index file is
// produced out of band and is optional.
type ItemIndex struct {
	names map[string]int
}

type itemIndexFile struct {
	Map map[string]int `json:"map"`
}

func LoadItemIndex(path string, logger *zap.Logger) *ItemIndex {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Info("item index not available", zap.String("path", path), zap.Error(err))
		return &ItemIndex{names: map[string]int{}}
	}

	var file itemIndexFile
	if err := json.Unmarshal(data, &file); err != nil {
		logger.Warn("item index unreadable", zap.String("path", path), zap.Error(err))
		return &ItemIndex{names: map[string]int{}}
	}
	if file.Map == nil {
		file.Map = map[string]int{}
	}

	logger.Info("item index loaded", zap.String("path", path), zap.Int("items", len(file.Map)))
	return &ItemIndex{names: file.Map}
}

func (ix *ItemIndex) Resolve(name string) (int, bool) {
	id, ok := ix.names[domain.NormalizeItemName(name)]
	return id, ok
}
