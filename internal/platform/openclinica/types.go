package openclinica

import "encoding/xml"

// Requests. Operation elements live in the service namespace, their bean
// children in the shared beans namespace.

type siteRef struct {
	Identifier string `xml:"http://openclinica.org/ws/beans identifier"`
}

type studyRef struct {
	Identifier string   `xml:"http://openclinica.org/ws/beans identifier"`
	SiteRef    *siteRef `xml:"http://openclinica.org/ws/beans siteRef,omitempty"`
}

type subjectBean struct {
	UniqueIdentifier string `xml:"http://openclinica.org/ws/beans uniqueIdentifier,omitempty"`
	Gender           string `xml:"http://openclinica.org/ws/beans gender,omitempty"`
	DateOfBirth      string `xml:"http://openclinica.org/ws/beans dateOfBirth,omitempty"`
}

type studySubjectBean struct {
	Label          string       `xml:"http://openclinica.org/ws/beans label,omitempty"`
	EnrollmentDate string       `xml:"http://openclinica.org/ws/beans enrollmentDate,omitempty"`
	Subject        *subjectBean `xml:"http://openclinica.org/ws/beans subject,omitempty"`
	StudyRef       studyRef     `xml:"http://openclinica.org/ws/beans studyRef"`
}

type studySubjectRef struct {
	Label string `xml:"http://openclinica.org/ws/beans label"`
}

type eventBean struct {
	StudySubjectRef    studySubjectRef `xml:"http://openclinica.org/ws/beans studySubjectRef"`
	StudyRef           studyRef        `xml:"http://openclinica.org/ws/beans studyRef"`
	EventDefinitionOID string          `xml:"http://openclinica.org/ws/beans eventDefinitionOID"`
	Location           string          `xml:"http://openclinica.org/ws/beans location"`
	StartDate          string          `xml:"http://openclinica.org/ws/beans startDate,omitempty"`
	StartTime          string          `xml:"http://openclinica.org/ws/beans startTime,omitempty"`
}

type listAllStudiesRequest struct {
	XMLName xml.Name `xml:"http://openclinica.org/ws/study/v1 listAllRequest"`
}

type listAllByStudyRequest struct {
	XMLName  xml.Name `xml:"http://openclinica.org/ws/studySubject/v1 listAllByStudyRequest"`
	StudyRef studyRef `xml:"http://openclinica.org/ws/beans studyRef"`
}

type isStudySubjectRequest struct {
	XMLName      xml.Name         `xml:"http://openclinica.org/ws/studySubject/v1 isStudySubjectRequest"`
	StudySubject studySubjectBean `xml:"http://openclinica.org/ws/studySubject/v1 studySubject"`
}

type createRequest struct {
	XMLName      xml.Name           `xml:"http://openclinica.org/ws/studySubject/v1 createRequest"`
	StudySubject []studySubjectBean `xml:"http://openclinica.org/ws/studySubject/v1 studySubject"`
}

type scheduleRequest struct {
	XMLName xml.Name    `xml:"http://openclinica.org/ws/event/v1 scheduleRequest"`
	Event   []eventBean `xml:"http://openclinica.org/ws/event/v1 event"`
}

type eventDefinitionListAll struct {
	StudyRef studyRef `xml:"http://openclinica.org/ws/beans studyRef"`
}

type listEventDefinitionsRequest struct {
	XMLName xml.Name               `xml:"http://openclinica.org/ws/studyEventDefinition/v1 listAllRequest"`
	ListAll eventDefinitionListAll `xml:"http://openclinica.org/ws/studyEventDefinition/v1 studyEventDefinitionListAll"`
}

type getMetadataRequest struct {
	XMLName       xml.Name `xml:"http://openclinica.org/ws/study/v1 getMetadataRequest"`
	StudyMetadata siteRef  `xml:"http://openclinica.org/ws/study/v1 studyMetadata"`
}

type importRequest struct {
	XMLName xml.Name `xml:"http://openclinica.org/ws/data/v1 importRequest"`
	ODM     string   `xml:",innerxml"`
}

// Responses are matched by local name only.

type listAllStudiesResponse struct {
	status
	Studies []studyItem `xml:"studies>study"`
}

type studyItem struct {
	OID        string     `xml:"oid"`
	Identifier string     `xml:"identifier"`
	Name       string     `xml:"name"`
	Sites      []siteItem `xml:"sites>site"`
}

type siteItem struct {
	OID        string `xml:"oid"`
	Identifier string `xml:"identifier"`
	Name       string `xml:"name"`
}

type listAllByStudyResponse struct {
	status
	Subjects []subjectItem `xml:"studySubjects>studySubject"`
}

type subjectItem struct {
	Label          string      `xml:"label"`
	SecondaryLabel string      `xml:"secondaryLabel"`
	EnrollmentDate string      `xml:"enrollmentDate"`
	Subject        personItem  `xml:"subject"`
	Events         []eventItem `xml:"events>event"`
}

type personItem struct {
	UniqueIdentifier string `xml:"uniqueIdentifier"`
	Gender           string `xml:"gender"`
	DateOfBirth      string `xml:"dateOfBirth"`
}

type eventItem struct {
	EventDefinitionOID string `xml:"eventDefinitionOID"`
	Location           string `xml:"location"`
	StartDate          string `xml:"startDate"`
	StartTime          string `xml:"startTime"`
}

type isStudySubjectResponse struct {
	status
	StudySubjectOID string `xml:"studySubjectOID"`
}

type createResponse struct {
	status
	Label string `xml:"label"`
}

type scheduleResponse struct {
	status
	EventDefinitionOID string `xml:"eventDefinitionOID"`
	StudySubjectOID    string `xml:"studySubjectOID"`
	StudyEventOrdinal  string `xml:"studyEventOrdinal"`
}

type listEventDefinitionsResponse struct {
	status
	Definitions []eventDefinitionItem `xml:"studyEventDefinitions>studyEventDefinition"`
}

type eventDefinitionItem struct {
	OID  string `xml:"oid"`
	Name string `xml:"name"`
}

type getMetadataResponse struct {
	status
	ODM string `xml:"odm"`
}

type importResponse struct {
	status
}
