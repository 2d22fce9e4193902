// Package encounter models the play-time resources a room mirrors: the
// scheduled session, the encounter inside it, and the combat sub-state that
// exists only while a fight is running.
//
// The backend owns every value here. The client keeps copies, and the rules
// in this package (initiative ordering, turn advancement, state validation)
// are shared with the reference backend so both ends agree on what a
// well-formed combat state looks like.
package encounter
