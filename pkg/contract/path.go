package contract

import (
	"path"
	"strings"
)

// NormalizeRelPath 规范化清单中的相对路径。
// 规则：
// - 去除首尾空白（清单存储常带换行/填充）
// - 反斜杠统一为正斜杠，清理多余分隔符与 . / .. 片段
// - 拒绝空路径、绝对路径、以 '..' 逃逸根目录的路径
func NormalizeRelPath(p string) (string, error) {
	s := strings.TrimSpace(p)
	s = strings.ReplaceAll(s, "\\", "/")
	if s == "" {
		return "", ErrPathInvalid
	}
	if strings.HasPrefix(s, "/") || hasVolume(s) {
		return "", ErrPathInvalid
	}
	s = path.Clean(s)
	if s == "." || s == ".." || strings.HasPrefix(s, "../") {
		return "", ErrPathInvalid
	}
	return s, nil
}

// hasVolume: Windows 卷名（C:）。
func hasVolume(s string) bool {
	return len(s) >= 2 && s[1] == ':' && ((s[0] >= 'a' && s[0] <= 'z') || (s[0] >= 'A' && s[0] <= 'Z'))
}
