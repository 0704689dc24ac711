package sync

// Entity builders: one per kind. Each builder resolves the draft's remote
// relationship references through the identifier map, asks the local store
// to create-or-update the entity, and registers the resulting local id
// under the draft's remote id. A builder either commits the full entity or
// nothing; there is no partial commit.

func (s *Session) buildCategory(d *draft) error {
	name, ok := d.value(fieldName)
	if !ok || name == "" {
		return &Error{
			Kind:     KindStructural,
			Entity:   EntityCategory,
			RemoteID: d.remoteID,
			Field:    fieldName,
			Message:  "missing required field",
		}
	}

	rec := CategoryRecord{RemoteID: d.remoteID, Name: name}

	// Categories arrive parent-before-child, so the parent must already
	// be mapped.
	if parent, ok := d.value(fieldParent); ok && parent != "" {
		localID, err := s.idmap.Resolve(EntityCategory, parent)
		if err != nil {
			return err
		}
		rec.ParentLocalID = localID
	}

	localID, err := s.store.CreateOrUpdateCategory(s.ctx, rec)
	if err != nil {
		return &Error{Kind: KindStore, Entity: EntityCategory, RemoteID: d.remoteID, Err: err}
	}
	if err := s.idmap.Put(EntityCategory, d.remoteID, localID); err != nil {
		return err
	}

	s.counts.Categories++
	s.logger.Printf("committed category %s -> %s", d.remoteID, localID)
	return nil
}

func (s *Session) buildTask(d *draft) error {
	subject, ok := d.value(fieldSubject)
	if !ok || subject == "" {
		return &Error{
			Kind:     KindStructural,
			Entity:   EntityTask,
			RemoteID: d.remoteID,
			Field:    fieldSubject,
			Message:  "missing required field",
		}
	}

	rec := TaskRecord{
		RemoteID: d.remoteID,
		Subject:  subject,
	}
	rec.Description, _ = d.value(fieldDescription)

	// Dates are decoded at commit time only, never while text is still
	// streaming in.
	var err error
	if rec.Start, err = d.dateField(fieldStart); err != nil {
		return err
	}
	if rec.Due, err = d.dateField(fieldDue); err != nil {
		return err
	}
	if rec.Completed, err = d.dateField(fieldCompleted); err != nil {
		return err
	}

	if parent, ok := d.value(fieldParent); ok && parent != "" {
		localID, err := s.idmap.Resolve(EntityTask, parent)
		if err != nil {
			return err
		}
		rec.ParentLocalID = localID
	}

	for _, remote := range d.categories {
		localID, err := s.idmap.Resolve(EntityCategory, remote)
		if err != nil {
			return err
		}
		rec.CategoryLocalIDs = append(rec.CategoryLocalIDs, localID)
	}

	localID, err := s.store.CreateOrUpdateTask(s.ctx, rec)
	if err != nil {
		return &Error{Kind: KindStore, Entity: EntityTask, RemoteID: d.remoteID, Err: err}
	}
	if err := s.idmap.Put(EntityTask, d.remoteID, localID); err != nil {
		return err
	}

	s.counts.Tasks++
	if rec.Completed != nil {
		s.counts.Done++
	}
	s.logger.Printf("committed task %s -> %s", d.remoteID, localID)
	return nil
}

func (s *Session) buildEffort(d *draft) error {
	taskRemote, ok := d.value(fieldTask)
	if !ok || taskRemote == "" {
		return &Error{
			Kind:     KindStructural,
			Entity:   EntityEffort,
			RemoteID: d.remoteID,
			Field:    fieldTask,
			Message:  "missing required field",
		}
	}

	started, err := d.timeField(fieldStarted)
	if err != nil {
		return err
	}
	if started == nil {
		return &Error{
			Kind:     KindStructural,
			Entity:   EntityEffort,
			RemoteID: d.remoteID,
			Field:    fieldStarted,
			Message:  "missing required field",
		}
	}

	// No ended timestamp means an open, in-progress effort; commit it with
	// a nil end rather than rejecting it.
	ended, err := d.timeField(fieldEnded)
	if err != nil {
		return err
	}

	taskLocal, err := s.idmap.Resolve(EntityTask, taskRemote)
	if err != nil {
		return err
	}

	rec := EffortRecord{
		RemoteID:    d.remoteID,
		TaskLocalID: taskLocal,
		Started:     *started,
		Ended:       ended,
	}
	rec.Subject, _ = d.value(fieldSubject)

	localID, err := s.store.CreateOrUpdateEffort(s.ctx, rec)
	if err != nil {
		return &Error{Kind: KindStore, Entity: EntityEffort, RemoteID: d.remoteID, Err: err}
	}
	if err := s.idmap.Put(EntityEffort, d.remoteID, localID); err != nil {
		return err
	}

	s.counts.Efforts++
	s.logger.Printf("committed effort %s -> %s", d.remoteID, localID)
	return nil
}
