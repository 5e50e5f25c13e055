package memory

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// ranker 对一组候选记忆做 TF-IDF 余弦排序
//
// 每次检索在候选集上现场拟合，单用户记忆量小，代价可忽略。
type ranker struct {
	vocabulary map[string]int
	idf        []float64
}

// tokenize 分词
//
// 英文按单词切分，中文按字符切分。
func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var word strings.Builder

	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	return tokens
}

// newRanker 在候选记忆上拟合词汇表与 IDF
func newRanker(memories []Memory) *ranker {
	wordDocCount := make(map[string]int)
	for _, m := range memories {
		seen := make(map[string]struct{})
		for _, token := range tokenize(m.Content) {
			if _, ok := seen[token]; !ok {
				wordDocCount[token]++
				seen[token] = struct{}{}
			}
		}
	}

	words := make([]string, 0, len(wordDocCount))
	for word := range wordDocCount {
		words = append(words, word)
	}
	sort.Strings(words)

	r := &ranker{
		vocabulary: make(map[string]int, len(words)),
		idf:        make([]float64, len(words)),
	}
	n := float64(len(memories))
	for i, word := range words {
		r.vocabulary[word] = i
		r.idf[i] = math.Log(n/float64(wordDocCount[word])) + 1.0
	}
	return r
}

// vectorize 文本转 L2 归一化的 TF-IDF 向量
func (r *ranker) vectorize(text string) []float64 {
	tf := make(map[string]int)
	for _, token := range tokenize(text) {
		tf[token]++
	}

	vec := make([]float64, len(r.vocabulary))
	for word, count := range tf {
		if idx, ok := r.vocabulary[word]; ok {
			vec[idx] = math.Log(1+float64(count)) * r.idf[idx]
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

// dot 归一化向量的点积即余弦相似度
func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// rankMemories 按相关性排序并截断到 k
//
// query 为空时退化为时间倒序。同分时新记忆优先。
func rankMemories(memories []Memory, query string, k int) []Memory {
	out := make([]Memory, len(memories))
	copy(out, memories)

	if strings.TrimSpace(query) == "" {
		sort.Slice(out, func(i, j int) bool {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	} else {
		r := newRanker(out)
		queryVec := r.vectorize(query)

		scores := make(map[string]float64, len(out))
		for _, m := range out {
			scores[m.ID] = dot(queryVec, r.vectorize(m.Content))
		}

		sort.Slice(out, func(i, j int) bool {
			si, sj := scores[out[i].ID], scores[out[j].ID]
			if si != sj {
				return si > sj
			}
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	}

	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
