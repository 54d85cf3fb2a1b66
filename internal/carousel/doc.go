// Package carousel models the host screens that present stories. A Manager
// owns one Session per presented carousel and translates screen lifecycle
// notifications and user gestures into coordinator commands. Every
// coordinator call runs through a Runner so ticks, gestures and lifecycle
// events share one serialized queue.
package carousel
