package util

import (
	"encoding/json"
	"strconv"
	"strings"
)

// MustParseUint 将字符串转换为无符号整数，解析失败时返回 0
func MustParseUint(s string) uint {
	id, _ := strconv.ParseUint(s, 10, 32)
	return uint(id)
}

// JoinUints 将 ID 列表编码为逗号分隔字符串
func JoinUints(ids []uint) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatUint(uint64(id), 10))
	}
	return strings.Join(parts, ",")
}

// MarshalIndicators 将分类指标编码为 JSON 数组字符串
func MarshalIndicators(indicators []string) string {
	data, err := json.Marshal(indicators)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// SplitUints 解码 JoinUints 生成的字符串，跳过非法片段
func SplitUints(s string) []uint {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ids := make([]uint, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint(v))
	}
	return ids
}
