package lora

import "sync"

// FramePublisher implements part of the pubsub pattern allowing other parts of the system to subscribe and
// receive decoded frames.
type FramePublisher interface {
	Publish(frame Frame, msg Control)
}

// FrameSubscriber handles frames received from a publisher.
type FrameSubscriber interface {
	OnFrame(frame Frame, msg Control)
}

// FrameSubscriberFunc adapts a function to FrameSubscriber.
type FrameSubscriberFunc func(frame Frame, msg Control)

func (f FrameSubscriberFunc) OnFrame(frame Frame, msg Control) {
	f(frame, msg)
}

type FanOutFramePublisher struct {
	mu          sync.RWMutex
	Subscribers []FrameSubscriber
}

func (pub *FanOutFramePublisher) Subscribe(subscriber FrameSubscriber) {
	pub.mu.Lock()
	defer pub.mu.Unlock()
	pub.Subscribers = append(pub.Subscribers, subscriber)
}

func (pub *FanOutFramePublisher) Publish(frame Frame, msg Control) {
	pub.mu.RLock()
	subscribers := pub.Subscribers
	pub.mu.RUnlock()

	wg := sync.WaitGroup{}
	wg.Add(len(subscribers))
	for _, sub := range subscribers {
		go func() {
			defer wg.Done()
			sub.OnFrame(frame, msg)
		}()
	}
	wg.Wait()
}
