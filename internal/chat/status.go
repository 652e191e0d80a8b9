package chat

import (
	"math/rand"
	"time"
)

// StatusInterval is how often the waiting indicator rotates to a fresh
// phrase.
const StatusInterval = 2500 * time.Millisecond

// statusTexts are the phrases shown while a response is pending.
var statusTexts = []string{
	"یه لحظه ⏳",
	"اعداد دارن باهام حرف می‌زنن…",
	"کمی صبر کن… تحلیل خوب عجله‌ای درنمیاد 😉",
	"دارم الگوها رو شکار می‌کنم 🧠✨",
	"در حال جوش دادن داده‌ها…",
	"داده‌ها رفتن زیر ذره‌بین، نتیجه نزدیکه 🔍",

	"تحلیل در جریانه…",
	"در حال رمزگشایی داده‌ها…",
	"دارم محاسبه می‌کنم…",
	"تقریباً آماده‌ایم…",

	"دیتوپیا مشغول فکر کردنه 🤖",
	"الگوریتم‌ها در حال کارن…",
	"نتایج هوشمند در راهه…",
}

// Rotator picks pending-status phrases at random, never handing out
// the same phrase twice in a row.
type Rotator struct {
	last string
	rng  *rand.Rand
}

func NewRotator() *Rotator {
	return &Rotator{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Next returns the next status phrase.
func (r *Rotator) Next() string {
	available := make([]string, 0, len(statusTexts))
	for _, text := range statusTexts {
		if text != r.last {
			available = append(available, text)
		}
	}
	selected := available[r.rng.Intn(len(available))]
	r.last = selected
	return selected
}
