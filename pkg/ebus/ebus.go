// Package ebus is the process-wide value bus. The telemetry poller and
// the flash sequencer publish onto it; the TUI, the CLI and the status
// server subscribe. A short-lived last-value cache replays the current
// value to late subscribers.
package ebus

import (
	"errors"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type Message struct {
	Topic string
	Value float64
	Time  time.Time
}

var (
	initOnce  sync.Once
	subs      = make(map[string][]chan float64)
	subsMutex sync.Mutex

	subsAll      = make([]chan *Message, 0)
	subsAllMutex sync.Mutex

	inChan       = make(chan *Message, 100)
	unsubChan    = make(chan chan float64, 100)
	unsubAllChan = make(chan chan *Message, 100)
	cache        *ttlcache.Cache[string, *Message]

	aggregators     []*Aggregator
	aggregatorsLock sync.Mutex
)

func init() {
	initOnce.Do(func() {
		cache = ttlcache.New[string, *Message](
			ttlcache.WithTTL[string, *Message](1 * time.Minute),
		)
		go run()
	})
}

func run() {
	for {
		select {
		case msg := <-inChan:
			if v := cache.Get(msg.Topic); v != nil {
				if v.Value().Value == msg.Value {
					continue
				}
			}
			cache.Set(msg.Topic, msg, ttlcache.DefaultTTL)
			subsAllMutex.Lock()
			for _, sub := range subsAll {
				select {
				case sub <- msg:
				default:
				}
			}
			subsAllMutex.Unlock()
			subsMutex.Lock()
			for _, sub := range subs[msg.Topic] {
				select {
				case sub <- msg.Value:
				default:
				}
			}
			subsMutex.Unlock()
			aggregatorsLock.Lock()
			for _, agg := range aggregators {
				agg.fun(msg.Topic, msg.Value)
			}
			aggregatorsLock.Unlock()

		case unsub := <-unsubAllChan:
			subsAllMutex.Lock()
			for i, sub := range subsAll {
				if sub == unsub {
					subsAll = append(subsAll[:i], subsAll[i+1:]...)
					close(sub)
					break
				}
			}
			subsAllMutex.Unlock()

		case unsub := <-unsubChan:
			subsMutex.Lock()
		outer:
			for topic, subz := range subs {
				for i, sub := range subz {
					if sub == unsub {
						subs[topic] = append(subz[:i], subz[i+1:]...)
						close(unsub)
						if len(subs[topic]) == 0 {
							delete(subs, topic)
						}
						break outer
					}
				}
			}
			subsMutex.Unlock()
		}
	}
}

// Publish puts a value on the bus. Unchanged values are dropped so idle
// signals do not spam subscribers. Never blocks; a full bus is an error.
func Publish(topic string, value float64) error {
	select {
	case inChan <- &Message{Topic: topic, Value: value, Time: time.Now()}:
		return nil
	default:
		return errors.New("publish channel full")
	}
}

// Subscribe returns a channel of values for one topic. The cached last
// value, if any, is delivered first.
func Subscribe(topic string) chan float64 {
	respChan := make(chan float64, 100)
	subsMutex.Lock()
	subs[topic] = append(subs[topic], respChan)
	subsMutex.Unlock()
	if itm := cache.Get(topic); itm != nil {
		respChan <- itm.Value().Value
	}
	return respChan
}

func Unsubscribe(channel chan float64) {
	unsubChan <- channel
}

// SubscribeFunc calls f for every value on the topic. The returned
// function unsubscribes.
func SubscribeFunc(topic string, f func(float64)) func() {
	respChan := Subscribe(topic)
	go func() {
		for v := range respChan {
			f(v)
		}
	}()
	return func() {
		Unsubscribe(respChan)
	}
}

// SubscribeAll returns a channel carrying every message on the bus,
// primed with the cached last value of each topic.
func SubscribeAll() chan *Message {
	respChan := make(chan *Message, 100)
	subsAllMutex.Lock()
	subsAll = append(subsAll, respChan)
	subsAllMutex.Unlock()

	cache.Range(func(item *ttlcache.Item[string, *Message]) bool {
		respChan <- item.Value()
		return true
	})
	return respChan
}

func UnsubscribeAll(channel chan *Message) {
	unsubAllChan <- channel
}

func SubscribeAllFunc(f func(*Message)) func() {
	respChan := SubscribeAll()
	go func() {
		for msg := range respChan {
			f(msg)
		}
	}()
	return func() {
		UnsubscribeAll(respChan)
	}
}
