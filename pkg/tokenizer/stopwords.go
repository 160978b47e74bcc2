package tokenizer

// IsStopword reports whether term is a function word that carries no
// retrieval signal. term must be normalized (lower case).
func IsStopword(term string) bool {
	return stopwords[term]
}

var stopwords = func() map[string]bool {
	m := make(map[string]bool, len(englishStopwords)+len(cjkStopwords))
	for _, w := range englishStopwords {
		m[w] = true
	}
	for _, w := range cjkStopwords {
		m[w] = true
	}
	return m
}()

var englishStopwords = []string{
	"a", "about", "above", "after", "again", "against", "all", "also", "am", "an", "and", "any",
	"are", "as", "at", "be", "because", "been", "before", "being", "below", "between", "both",
	"but", "by", "can", "could", "did", "do", "does", "doing", "done", "down", "during", "each",
	"else", "even", "ever", "every", "few", "for", "from", "further", "get", "got", "had", "has",
	"have", "having", "he", "her", "here", "hers", "herself", "him", "himself", "his", "how",
	"however", "if", "in", "into", "is", "it", "its", "itself", "just", "let", "like", "me",
	"might", "more", "most", "much", "must", "my", "myself", "no", "nor", "not", "now", "of",
	"off", "oh", "ok", "okay", "on", "once", "only", "or", "other", "our", "ours", "ourselves",
	"out", "over", "own", "same", "shall", "she", "should", "so", "some", "still", "such",
	"than", "that", "the", "their", "theirs", "them", "themselves", "then", "there", "these",
	"they", "this", "those", "through", "to", "too", "under", "until", "up", "us", "very",
	"was", "we", "well", "were", "what", "when", "where", "which", "while", "who", "whom",
	"why", "will", "with", "would", "yeah", "yes", "yet", "you", "your", "yours", "yourself",
	"yourselves", "i'm", "it's", "don't", "didn't", "can't", "won't", "that's", "there's",
	"i'll", "you're", "he's", "she's", "we're", "they're", "i've", "isn't", "wasn't",
}

var cjkStopwords = []string{
	// pronouns
	"我们", "你们", "他们", "她们", "它们", "咱们", "自己", "大家", "别人",
	// demonstratives and question words
	"这个", "那个", "这些", "那些", "这里", "那里", "这样", "那样", "什么", "怎么",
	"为什么", "哪里", "哪个", "多少",
	// conjunctions and adverbs
	"因为", "所以", "但是", "可是", "然后", "而且", "或者", "还是", "如果", "虽然",
	"已经", "就是", "不是", "没有", "可以", "一个", "一些", "一下", "一样", "现在",
	"时候", "知道", "觉得", "应该", "真的", "的话", "起来", "出来", "一直", "还有",
	// common particle bigrams
	"了吗", "的了", "是的", "好的", "了一", "我的", "你的", "他的", "她的", "的是",
	"是不", "不要", "我在", "你在", "在这",
}
