package contract

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// ArchiveExt 为分片归档扩展名。
const ArchiveExt = ".zip"

const shardPrefix = "images_"

// ShardName 生成分片文件名：images_{ordinal:04}_of_{total}.zip。
// total<=0 时为单参数形式 images_{ordinal:04}.zip。
// 序号至少 4 位补零，同一划分内名称互不相同。
func ShardName(ordinal, total int) string {
	if total <= 0 {
		return fmt.Sprintf("%s%04d%s", shardPrefix, ordinal, ArchiveExt)
	}
	return fmt.Sprintf("%s%04d_of_%d%s", shardPrefix, ordinal, total, ArchiveExt)
}

// ParseShardName 解析 ShardName 生成的名称；单参数形式 total 返回 0。
func ParseShardName(name string) (ordinal, total int, ok bool) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, shardPrefix) || !strings.HasSuffix(base, ArchiveExt) {
		return 0, 0, false
	}
	core := strings.TrimSuffix(strings.TrimPrefix(base, shardPrefix), ArchiveExt)
	ordPart, totPart, hasTotal := strings.Cut(core, "_of_")
	if len(ordPart) < 4 {
		return 0, 0, false
	}
	o, err := strconv.Atoi(ordPart)
	if err != nil || o < 0 {
		return 0, 0, false
	}
	if !hasTotal {
		return o, 0, true
	}
	t, err := strconv.Atoi(totPart)
	if err != nil || t <= 0 || o >= t {
		return 0, 0, false
	}
	return o, t, true
}

// IsArchiveName 判断文件名是否带可识别的归档扩展名（大小写不敏感）。
func IsArchiveName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ArchiveExt)
}

// ArchiveBase 返回去掉扩展名的归档基名（Nested 布局的子目录名）。
func ArchiveBase(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
