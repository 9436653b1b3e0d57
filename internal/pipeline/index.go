package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"imgshard/pkg/contract"
)

// IndexName 为分片目录内的索引文件名。
const IndexName = "SHARDS.yaml"

// IndexVersion 为当前索引格式版本。
const IndexVersion = 1

// Index 描述一次打包的结果，供解包时核对与断点判断。
type Index struct {
	Version     int                  `yaml:"version"`
	Split       string               `yaml:"split"`
	NumItems    int                  `yaml:"num_items"`
	NumChunks   int                  `yaml:"num_chunks"`
	Tail        bool                 `yaml:"tail,omitempty"`
	Remainder   int                  `yaml:"remainder"` // 未被任何分片覆盖的尾部条目数
	Buffering   contract.Buffering   `yaml:"buffering"`
	Compression contract.Compression `yaml:"compression"`
	Shards      []contract.ShardInfo `yaml:"shards"`
}

// Lookup 按分片文件名查找。
func (ix *Index) Lookup(name string) (contract.ShardInfo, bool) {
	if ix == nil {
		return contract.ShardInfo{}, false
	}
	for _, s := range ix.Shards {
		if s.Name == name {
			return s, true
		}
	}
	return contract.ShardInfo{}, false
}

func writeIndex(ctx context.Context, w contract.Writer, ix Index) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(ix); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return w.Write(ctx, contract.ArtifactID(IndexName), &buf)
}

// ReadIndex 读取 dir 下的 SHARDS.yaml；不存在时返回 (nil, nil)。
func ReadIndex(dir string) (*Index, error) {
	b, err := os.ReadFile(filepath.Join(dir, IndexName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", contract.ErrIO, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var ix Index
	if err := dec.Decode(&ix); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", contract.ErrCorruptArchive, IndexName, err)
	}
	if ix.Version != IndexVersion {
		return nil, fmt.Errorf("%w: %s version %d", contract.ErrCorruptArchive, IndexName, ix.Version)
	}
	return &ix, nil
}
